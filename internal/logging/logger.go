// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production that
// writes to stderr.
func New(development bool) (*zap.Logger, error) {
	return build(development, nil)
}

// NewFile is New with every log line going to path instead of stderr. The
// TUI uses it so logs do not draw over the screen.
func NewFile(development bool, path string) (*zap.Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	return build(development, []string{path})
}

func build(development bool, outputs []string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if outputs != nil {
		cfg.OutputPaths = outputs
		cfg.ErrorOutputPaths = outputs
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		mode := "prod"
		if development {
			mode = "dev"
		}
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}
