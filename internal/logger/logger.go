package logger

import (
	"go.uber.org/zap"
)

// New создает zap логгер: JSON в production, консольный вывод в development
func New(environment, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return cfg.Build()
}

// MustInit создает логгер и делает его глобальным (zap.S() в сервисах)
func MustInit(environment, level string) *zap.Logger {
	l, err := New(environment, level)
	if err != nil {
		l = zap.NewExample()
		l.Warn("⚠️ Не удалось создать логгер, используется пример", zap.Error(err))
	}
	zap.ReplaceGlobals(l)
	return l
}
