// Package logging provides structured logging for SnapDog Core.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, site) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Component loggers via With / Component
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version).WithSite(cfg.Site.ID)
//	rpc.SetLogger(logger.Component("snapcast"))
//
// *Logger satisfies the small Debug/Info/Warn/Error logger interfaces the
// Snapcast client and the MQTT client accept.
//
// Never log secrets, tokens or passwords.
package logging
