// Package config handles configuration loading for microbe-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then overridden from MICROBE_* environment variables, then
// defaulted and validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MICROBE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/microbe/gateway.yaml
//  3. ~/.config/microbe/gateway.yaml
//
// A .env file in the working directory is loaded into the environment first.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//
// # Environment Overrides
//
// These replace whatever the file says when set and non-empty:
//
//	MICROBE_HTTP_ADDR, MICROBE_DB_DRIVER, MICROBE_DB_PATH, MICROBE_DB_DSN,
//	MICROBE_JWT_SECRET, MICROBE_REDIS_ADDR, MICROBE_LOG_LEVEL
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	websocket:
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"          # or "postgres"
//	  path: "./data/microbe.db" # sqlite
//	  dsn: "postgres://..."     # postgres
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}" # at least 32 bytes
//	  issuer: "microbe.com"
//	  audience: "microbe.com"
//	  token_ttl: "1h"
//
//	redis:                      # optional; enables relay and rate limiting
//	  addr: "localhost:6379"
//	  channel: "microbe:ready"
//
//	ratelimit:
//	  messages: 30              # per window, 0 disables
//	  window: "1m"
//
//	dedupe:
//	  ttl: "5m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
package config
