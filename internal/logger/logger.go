// Package logger builds the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
)

// New builds a production zap logger at the given verbosity ("debug",
// "info", "warn", "error"). Components derive their own scope with
// logger.Named.
func New(verbosity string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	// Sampling off: the collector logs only protocol violations and dropped
	// instances, and losing those defeats their purpose.
	config.Sampling = nil
	return config.Build()
}
