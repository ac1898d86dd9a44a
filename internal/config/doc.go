// Package config handles configuration loading for converse-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Unset fields receive defaults before validation runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CONVERSE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/converse/gateway.yaml
//  3. ~/.config/converse/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generator:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	replay:
//	  ttl: "300s"
//	  cleanup_interval: "30s"
//	conversation:
//	  idle_timeout: "5m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional grpc.health.v1
//	  stream_path: "/chat/stream"
//	  allowed_origins: ["localhost:*"]
//
//	replay:
//	  backend: "memory"            # memory, redis, sqlite
//	  redis_url: "redis://localhost:6379/0"
//	  key_prefix: "conv:"
//	  sqlite_path: "/var/lib/converse/replay.db"
//
//	flush:
//	  max_chars: 160
//	  min_sentence_chars: 25
//	  normalize_cr: "strip"        # strip, newline
//
//	conversation:
//	  cancel_policy: "discard"     # discard, flush
//	  default_user_id: "anonymous"
//
//	generator:
//	  provider: "scripted"         # scripted, openai, anthropic
//	  model: "gpt-4o-mini"
//
//	auth:
//	  jwt_secret: "${CONVERSE_JWT_SECRET}"  # empty disables bearer checks
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load("/etc/converse/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
