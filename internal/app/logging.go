package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures logging wiring. A preset Logger wins over Config.
type LoggingConfig struct {
	Logger *zap.Logger
	Config LogConfig
}

// Logging bundles the root logger.
type Logging struct {
	Logger *zap.Logger
}

// NewLogging constructs logging dependencies.
func NewLogging(cfg LoggingConfig) (Logging, error) {
	logger := cfg.Logger
	if logger == nil {
		built, err := BuildLogger(cfg.Config)
		if err != nil {
			return Logging{}, err
		}
		logger = built
	}
	return Logging{Logger: logger.Named("cliproxy")}, nil
}

// NewLogger returns the logger from a Logging bundle.
func NewLogger(logging Logging) *zap.Logger {
	return logging.Logger
}

// BuildLogger returns a production JSON logger, or the console encoder when
// cfg.Development is set. cfg.File adds an extra output path.
func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}
	return zcfg.Build()
}
