// Package config loads and validates the gateway's YAML configuration.
//
// Configuration is a single YAML file with environment variable expansion
// (${VAR_NAME} patterns) and duration-string parsing ("15s", "1m"). The
// file location is resolved by the main package: NANOBOT_CONFIG env var
// first, then XDG_CONFIG_HOME/nanobot/gateway.yaml, then
// ~/.config/nanobot/gateway.yaml.
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:18790"
//
//	database:
//	  path: "~/.local/share/nanobot/console.db"
//
//	engine:
//	  endpoint: "http://localhost:18791"
//	  heartbeat_interval: "15s"
//	  request_timeout: "5m"
//
//	knowledge:
//	  enabled: false
//	  endpoint: "http://localhost:18792"
//
//	cron:
//	  reconcile_interval: "1m"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// Missing durations fall back to the Default* constants. Validate reports
// the first missing required field.
package config
