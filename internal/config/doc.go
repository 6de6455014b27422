// Package config handles configuration loading for lantern-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LANTERN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/lantern/gateway.yaml
//  3. ~/.config/lantern/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	pipeline:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  poll_interval: "50ms"
//	  resume_ttl: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":3000"  # Browser client and websocket channel
//
// Channel limits:
//
//	gateway:
//	  max_clients: 4
//	  queue_size: 512
//	  token_table_size: 16
//	  audio_buffer_initial: 32768
//	  audio_buffer_max: 960000
//	  resume_ttl: "30m"
//
// Pipeline:
//
//	pipeline:
//	  provider: "openai"
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//	  asr_model: "whisper-1"
//	  voice: "alloy"
//	  system_prompt: "You are a helpful voice assistant."
//	  tts_enabled: true
//
// Database:
//
//	database:
//	  path: "~/.local/share/lantern/lantern.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Listener address presence
//   - Client and queue limits are positive
//   - Audio buffer limits are ordered
//   - Pipeline provider is supported
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
