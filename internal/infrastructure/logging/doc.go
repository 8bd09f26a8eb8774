// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every supervised component gets a child logger via Component, so child
// process output redirected to the log carries a "component" field.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Component("browser").Info("launched", zap.Int("pid", pid))
//	logger.Error("probe failed", zap.Error(err))
package logging
