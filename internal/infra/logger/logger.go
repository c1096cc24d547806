package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Logger is a leveled logger writing to an append-only file, with an
// optional stdout echo for interactive and container runs.
type Logger struct {
	out           *log.Logger
	level         Level
	includeStdout bool
}

// New opens (or creates) the log file at path. An empty path logs to
// stderr only.
func New(path string, level Level, includeStdout bool) (*Logger, error) {
	var sink io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = f
	}

	return &Logger{
		out:           log.New(sink, "", 0),
		level:         level,
		includeStdout: includeStdout && path != "",
	}, nil
}

func ParseLevel(raw string) Level {
	switch strings.ToLower(raw) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) log(lvl Level, tag, format string, v ...any) {
	if lvl < l.level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"), tag, fmt.Sprintf(format, v...))

	l.out.Println(line)

	// Debug stays off stdout so it cannot tear the CLI progress line.
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Printf("\n%s", line)
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }

func (l *Logger) Fatal(f string, v ...any) {
	l.log(LevelFatal, "FATAL", f, v...)
	os.Exit(1)
}

// Write lets HTTP middleware and other libraries log through us.
func (l *Logger) Write(p []byte) (n int, err error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
