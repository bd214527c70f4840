// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DropFunc reports whether an entry should be discarded before encoding.
type DropFunc func(entry zapcore.Entry) bool

// Options selects the logger flavour.
type Options struct {
	// Development switches to the colored console encoder.
	Development bool
	// Debug lowers the level to debug (the debugLog input flag).
	Debug bool
	// Drop filters noisy entries, typically from the fetch collaborator.
	Drop DropFunc
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var buildOpts []zap.Option
	if opts.Drop != nil {
		drop := opts.Drop
		buildOpts = append(buildOpts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &filterCore{Core: core, drop: drop}
		}))
	}
	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// DropMessagesContaining returns a DropFunc matching entries whose message
// contains any of the fragments.
func DropMessagesContaining(fragments ...string) DropFunc {
	return func(entry zapcore.Entry) bool {
		for _, f := range fragments {
			if f != "" && strings.Contains(entry.Message, f) {
				return true
			}
		}
		return false
	}
}

// WithFilter wraps an existing core so tests and callers holding a logger can
// add a drop predicate after construction.
func WithFilter(logger *zap.Logger, drop DropFunc) *zap.Logger {
	if logger == nil || drop == nil {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &filterCore{Core: core, drop: drop}
	}))
}

type filterCore struct {
	zapcore.Core
	drop DropFunc
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), drop: c.drop}
}

func (c *filterCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.drop(entry) {
		return checked
	}
	return c.Core.Check(entry, checked)
}
