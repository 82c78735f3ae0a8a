package main

import (
	"log"
	"os"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jassus213/throttle"
	stdlogadapter "github.com/jassus213/throttle/adapters/log"
	logrusadapter "github.com/jassus213/throttle/adapters/logrus"
	zapadapter "github.com/jassus213/throttle/adapters/zap"
	zerologadapter "github.com/jassus213/throttle/adapters/zerolog"
	"github.com/jassus213/throttle/config"
)

// newLogger builds the configured backend. The returned func flushes it.
func newLogger(cfg config.LogConfig) (throttle.Logger, func(), error) {
	switch cfg.Backend {
	case "zerolog":
		level, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		l := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return zerologadapter.New(&l), func() {}, nil

	case "logrus":
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logrusadapter.New(l), func() {}, nil

	case "std":
		l := log.New(os.Stderr, "throttled ", log.LstdFlags|log.Lmicroseconds)
		return stdlogadapter.New(l, cfg.Level == "debug"), func() {}, nil

	default:
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		l, err := zcfg.Build()
		if err != nil {
			return nil, nil, err
		}
		return zapadapter.New(l.Named("throttle")), func() { _ = l.Sync() }, nil
	}
}
