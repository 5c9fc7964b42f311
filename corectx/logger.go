// Package corectx holds the ambient handle threaded through every
// dispatch operation: instance identity, logging, and the Environment
// a Core is built from.
package corectx

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// coreLogger implements logger.ILogger with formatting tailored to this
// module's log lines.
type coreLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *coreLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *coreLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *coreLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *coreLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *coreLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *coreLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *coreLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-16s | %s", levelStr, l.name, message)
}

// CreateLogger is a logger.Factory producing coreLogger instances.
func CreateLogger(pkgName string) logger.ILogger {
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)
	return &coreLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// ParseLogLevel converts a string level to logger.LogLevel, defaulting to
// INFO for an unrecognized value rather than panicking: logging
// configuration must never prevent the core from starting.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

// loggerNames are every named logger this module writes through.
var loggerNames = []string{
	"core", "reconcile", "locator", "node", "transport", "httpstream",
	"configprovider", "corereq", "events", "wire",
}

// InitLoggers installs CreateLogger as the global factory and sets every
// named logger in this module to logLevel.
func InitLoggers(logLevel string) {
	logger.SetLoggerFactory(CreateLogger)
	level := ParseLogLevel(logLevel)
	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
}
