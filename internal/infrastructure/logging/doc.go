// Package logging provides structured logging for the virtual device service.
//
// It wraps log/slog so every entry carries the same default fields
// (service, version) and honours the level and format from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	ctrl := automation.NewController(automation.ControllerConfig{
//	    Logger: logger.Component("controller"),
//	})
//
// Never log secrets, tokens or passwords.
package logging
