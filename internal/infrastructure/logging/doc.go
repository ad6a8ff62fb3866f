// Package logging provides structured logging for the board bridge.
//
// It wraps log/slog so every component logs the same way: JSON by default,
// text for development, with service and version attached to each entry.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger:
//
//	log := logger.Component("bridge")
//	log.Warn("unknown board", "suffix", "EE:FF")
//
// Never log broker, SMTP or cache passwords, or JWT material.
package logging
