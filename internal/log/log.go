// Package log holds the application-wide logger. Library packages take an
// hclog.Logger explicitly; this package is for the binary's own wiring.
package log

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/caseflow-io/caseflow/internal/profile"
)

var logger hclog.Logger

func Init() {
	logger = hclog.New(&hclog.LoggerOptions{
		Name:       "caseflow",
		Level:      level(),
		JSONFormat: strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	})
	hclog.SetDefault(logger)
}

func level() hclog.Level {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return hclog.LevelFromString(l)
	}
	if profile.Current == profile.DEV {
		return hclog.Debug
	}
	return hclog.Info
}

// Logger returns the configured application logger.
func Logger() hclog.Logger {
	if logger == nil {
		Init()
	}
	return logger
}

func Debug(format string, args ...any) {
	Logger().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	Logger().Info(fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	Logger().Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	Logger().Error(fmt.Sprintf(format, args...))
}
