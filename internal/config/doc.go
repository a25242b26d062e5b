// Package config handles configuration loading for agent-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	webhook:
//	  secret: "${GATEWAY_WEBHOOK_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  request_timeout: "30s"
//	rate_limit:
//	  window: "60s"
//	retention:
//	  comm_log: "720h"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  request_timeout: "30s"
//
// Database:
//
//	database:
//	  path: "/var/lib/agent-gateway/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${GATEWAY_JWT_SECRET}"
//	  api_keys:
//	    publisher: "${GATEWAY_API_KEY}"
//
// Workers:
//
//	workers:
//	  - name: "research-discovery"
//	    base_url: "https://agents.example.com/research"
//	    api_key: "${RESEARCH_AGENT_KEY}"
//	    actions:
//	      - name: "literature_search"
//	        required: ["query"]
//	        fields:
//	          query: string
//	          filters: object
//	        read_only: true
//
// Rate limiting:
//
//	rate_limit:
//	  enabled: true
//	  limit: 100
//	  window: "60s"
//	  backend: "memory"   # or "redis"
//
// Webhooks:
//
//	webhook:
//	  secret: "${GATEWAY_WEBHOOK_SECRET}"
//	  hook_url: "https://host.example.com/hooks/agent-events"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
