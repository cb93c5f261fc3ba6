// Package config loads and validates the askbox server configuration from
// YAML, with ${VAR} environment expansion and duration-string parsing.
package config
