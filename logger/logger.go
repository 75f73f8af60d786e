// Package logger provides leveled logging for the PlayBell server with a
// console backend and an optional file backend.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/op/go-logging"
)

const (
	moduleName  = "playbell"
	logFileName = "playbell.log"
	timeFormat  = "2006/01/02 15:04:05"
)

var (
	mu      sync.RWMutex
	logger  *logging.Logger
	logFile *os.File
)

func init() {
	InitLogger(logging.INFO, "")
}

// ParseLevel maps a config level name to a go-logging level.
// Unknown names fall back to INFO.
func ParseLevel(level string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logging.DEBUG
	case "warn", "warning":
		return logging.WARNING
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

// InitLogger configures the console backend at the given level. When logDir
// is non-empty, a file backend logging at DEBUG is added as well.
func InitLogger(level logging.Level, logDir string) {
	newLogger := logging.MustGetLogger(moduleName)
	backends := make([]logging.Backend, 0, 2)

	console := logging.NewBackendFormatter(
		logging.NewLogBackend(os.Stderr, "", 0),
		newFormatter(true),
	)
	leveled := logging.AddModuleLevel(console)
	leveled.SetLevel(level, moduleName)
	backends = append(backends, leveled)

	if logDir != "" {
		if fileBackend := initFileBackend(logDir); fileBackend != nil {
			leveledFile := logging.AddModuleLevel(fileBackend)
			leveledFile.SetLevel(logging.DEBUG, moduleName)
			backends = append(backends, leveledFile)
		}
	}

	newLogger.SetBackend(logging.MultiLogger(backends...))
	newLogger.ExtraCalldepth = 1

	mu.Lock()
	logger = newLogger
	mu.Unlock()
}

func initFileBackend(logDir string) logging.Backend {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log folder %s: %v\n", logDir, err)
		return nil
	}

	logPath := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", logPath, err)
		return nil
	}

	mu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	mu.Unlock()

	return logging.NewBackendFormatter(logging.NewLogBackend(file, "", 0), newFormatter(true))
}

func newFormatter(withTime bool) logging.Formatter {
	format := `%{level} - %{message}`
	if withTime {
		format = `%{time:` + timeFormat + `} %{level} - %{message}`
	}
	return logging.MustStringFormatter(format)
}

// CloseLogger closes the log file, if any.
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func current() *logging.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(args ...any) { current().Debug(args...) }

func Debugf(format string, args ...any) { current().Debugf(format, args...) }

func Info(args ...any) { current().Info(args...) }

func Infof(format string, args ...any) { current().Infof(format, args...) }

func Warning(args ...any) { current().Warning(args...) }

func Warningf(format string, args ...any) { current().Warningf(format, args...) }

func Error(args ...any) { current().Error(args...) }

func Errorf(format string, args ...any) { current().Errorf(format, args...) }
