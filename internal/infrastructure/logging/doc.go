// Package logging provides structured logging for projectorctld.
//
// It wraps log/slog so every record carries the service name and build
// version, with JSON output for production and text for development.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("api listening", "port", 43880)
//	regLog := logger.Component("registry")
//
// Never log JWT secrets, client keys or MQTT passwords.
package logging
