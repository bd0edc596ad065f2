// Package logging provides structured logging for the node.
//
// It wraps the standard log/slog package so every subsystem logs through
// the same handler with the same default fields.
//
// # Features
//
//   - JSON output for deployed nodes (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all entries
//   - Level-based filtering (debug, info, warn, error)
//   - Safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting node", "node_id", cfg.Node.ID)
//	logger.Error("broker connect failed", "error", err)
//
// Never log credentials or tokens; log prefixes or lengths instead.
package logging
