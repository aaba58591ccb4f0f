// Package stores provides the relational persistence layer: resource
// metadata, cloud contexts, and durable flight state with its checkpoint
// log. It runs on database/sql with SQLite (solo deployments) or
// PostgreSQL via pgx (multi-node), with embedded golang-migrate
// migrations. All mutating operations run in SERIALIZABLE transactions so
// concurrent flights racing on the same workspace's resource set cannot
// lose updates.
package stores
