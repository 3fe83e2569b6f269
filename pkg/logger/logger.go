package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	initOnce sync.Once
	base     *slog.Logger
)

// Init configures the process-wide JSON logger. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		base = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	})
}

func log(level slog.Level, event string, attrs []slog.Attr) {
	if base == nil {
		Init()
	}
	base.LogAttrs(context.Background(), level, event, attrs...)
}

func toAttrs(fields map[string]interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func Info(event string, fields map[string]interface{}) {
	log(slog.LevelInfo, event, toAttrs(fields))
}

func Warn(event string, fields map[string]interface{}) {
	log(slog.LevelWarn, event, toAttrs(fields))
}

func Error(event string, err error, fields map[string]interface{}) {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log(slog.LevelError, event, attrs)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	attrs := toAttrs(fields)
	attrs = append(attrs, slog.String("user_id", userID))
	log(slog.LevelInfo, event, attrs)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	attrs := toAttrs(fields)
	attrs = append(attrs, slog.String("user_id", userID))
	log(slog.LevelWarn, event, attrs)
}
