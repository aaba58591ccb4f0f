// Package server exposes the workspace resource API over HTTP. Mutations
// on controlled resources return 202 with a flight id to poll; everything
// else is synchronous. Classified resource errors map onto HTTP status
// codes at this boundary and nowhere else.
package server
