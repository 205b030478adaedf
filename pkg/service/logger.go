package service

import (
	"log/slog"
	"os"

	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

var loggerWriter = os.Stdout

func loggerLevel() slog.Level {
	switch variables.Env("LOG_LEVEL", "debug") {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     loggerLevel(),
	}))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
