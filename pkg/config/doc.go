// Package config loads the daemon configuration: a YAML file layered with
// environment variable overrides, validated before anything starts. A .env
// file in the working directory is honored for local development.
package config
