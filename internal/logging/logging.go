// Package logging wires a rolling-file zap logger, the same shape the
// rest of this codebase's ambient stack uses everywhere else.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a SugaredLogger that writes JSON-less console-encoded lines
// to filePath, rotated by lumberjack. Callers own the returned logger;
// nothing here is a package-level singleton.
func New(filePath string) (*zap.SugaredLogger, func(), error) {
	rotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := zap.New(core, zap.AddCaller())
	sugar := logger.Sugar()

	sync := func() {
		_ = logger.Sync()
	}
	return sugar, sync, nil
}
