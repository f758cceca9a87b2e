// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported output formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to stderr at the given level.
// An empty level means info, an empty format means json.
func New(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		lvl, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	cc := zap.NewProductionConfig()
	cc.DisableStacktrace = true
	cc.EncoderConfig.TimeKey = "timestamp"
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.Level = zap.NewAtomicLevelAt(lvl)
	cc.Sampling = nil

	switch format {
	case "", FormatJSON:
		cc.Encoding = FormatJSON
	case FormatConsole:
		cc.Encoding = FormatConsole
		cc.DisableCaller = true
		cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return cc.Build()
}
