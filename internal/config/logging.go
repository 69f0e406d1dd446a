package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name onto zap. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return lvl, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger. The returned level can be changed
// at runtime; Watch does that on config edits.
func NewLogger(cfg Log) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, zc.Level, nil
}

// Watch re-reads the config file on change and applies the new log
// level. Other settings need a restart; onChange still sees them. An
// invalid edit is logged and ignored.
func (l *Loader) Watch(level zap.AtomicLevel, logger *zap.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l.v.ConfigFileUsed() == "" {
		logger.Debug("config: no file to watch")
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			logger.Warn("config: reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		lvl, _ := ParseLevel(cfg.Log.Level)
		if lvl != level.Level() {
			level.SetLevel(lvl)
			logger.Info("config: log level changed", zap.Stringer("level", lvl))
		}
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}
