package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Tag names the subsystem an event line belongs to.
type Tag string

const (
	TagBoot Tag = "BOOT"
	TagHTTP Tag = "HTTP"
	TagBL   Tag = "BL"
	TagErr  Tag = "ERR"
	TagExit Tag = "EXIT"
	TagDisp Tag = "DISP"
	TagWeb  Tag = "WEB"
)

var (
	mu         sync.Mutex
	logger     *stdlog.Logger
	loggerOnce sync.Once
	minLevel   = LevelInfo
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = stdlog.New(os.Stderr, "", 0)
	})
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// SetOutput redirects all log lines to w. Tests use it to capture events.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, "", msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, "", msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, "", msg, extended...)
}

// Event emits an INFO line tagged with a subsystem, e.g.
//
//	2025-01-01T00:00:00Z [INFO] [BL] sysfs backlight path=/sys/class/backlight/rpi
func Event(tag Tag, msg string, kv ...any) {
	logWithLevel(LevelInfo, tag, msg, kv...)
}

// EventError is Event at ERROR level with the error as first key.
func EventError(tag Tag, msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, tag, msg, extended...)
}

func logWithLevel(level Level, tag Tag, msg string, kv ...any) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	if !enabled(level) {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)

	// Basic line format:
	// 2025-01-01T00:00:00Z [LEVEL] [TAG] msg key=value ...
	line := ts + " [" + string(level) + "] "
	if tag != "" {
		line += "[" + string(tag) + "] "
	}
	line += msg

	if len(kv) > 0 {
		line += formatKVs(kv...)
	}

	logger.Println(line)
}

func enabled(level Level) bool {
	switch minLevel {
	case LevelDebug:
		return true
	case LevelInfo:
		return level == LevelInfo || level == LevelError
	case LevelError:
		return level == LevelError
	default:
		return true
	}
}

func formatKVs(kv ...any) string {
	out := ""
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out += " " + key + "=" + fmt.Sprint(kv[i+1])
	}
	// If odd number of args, last one is ignored.
	return out
}
