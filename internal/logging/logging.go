// Package logging wires the zap logger every component in this repository
// takes as a constructor argument, matching the teacher pack's
// zap.NewProduction() convention used throughout unified-rag-service and
// document-chunker.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zks-samoprocjena/compliance-engine/internal/config"
	"github.com/zks-samoprocjena/compliance-engine/internal/loki"
)

// New builds a production zap logger, or a development logger with a human
// console encoder when debug is true. When cfg.LokiEndpoint is set, every
// entry is additionally shipped to Loki through a teed zapcore.Core (A2's
// optional Loki shipping); an empty endpoint leaves the logger untouched.
func New(debug bool, cfg config.LoggingConfig) (*zap.Logger, error) {
	base, err := baseLogger(debug)
	if err != nil {
		return nil, err
	}
	if cfg.LokiEndpoint == "" {
		return base, nil
	}

	client := loki.New(cfg.LokiEndpoint, cfg.LokiLabels)
	shipped := base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newLokiCore(client, core))
	}))
	return shipped, nil
}

func baseLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
