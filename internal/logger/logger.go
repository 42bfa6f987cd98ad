// Package logger builds the zap loggers used by the adr CLI and worker loop.
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/example/adr/internal/config"
)

// Options selects the sinks for one process.
type Options struct {
	Config config.LogConfig
	// Name is used for the log file name (<Name>.log), normally the runner id.
	Name string
	// Verbosity is the console threshold in numeric levels: 10 debug, 20 info,
	// 30 warn, 40 error. Zero falls back to Config.Level.
	Verbosity int
}

// New returns a logger writing to the console and/or a rotating file. The
// file sink always records debug output; the console honours Verbosity.
func New(opts Options) *zap.Logger {
	cfg := opts.Config

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	var consoleEncoder zapcore.Encoder
	if cfg.Format == "json" {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	}

	consoleLevel := ParseLevel(cfg.Level)
	if opts.Verbosity > 0 {
		consoleLevel = VerbosityLevel(opts.Verbosity)
	}

	var cores []zapcore.Core
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), consoleLevel))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && opts.Name != "" {
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, opts.Name+".log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), zapcore.DebugLevel))
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// VerbosityLevel maps numeric verbosity (10/20/30/40/50) to a zap level.
func VerbosityLevel(v int) zapcore.Level {
	switch {
	case v <= 10:
		return zapcore.DebugLevel
	case v <= 20:
		return zapcore.InfoLevel
	case v <= 30:
		return zapcore.WarnLevel
	case v <= 40:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}
