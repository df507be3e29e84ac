package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	logger     *zap.SugaredLogger
	atom       zap.AtomicLevel
	loggerOnce sync.Once

	bannerOnce sync.Once
)

// initLogger builds the process-wide zap logger writing to stderr.
func initLogger() {
	loggerOnce.Do(func() {
		atom = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		logger = build(zapcore.Lock(os.Stderr))
	})
}

func build(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, atom)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// SetOutput sends log output to w, e.g. a file while the terminal UI owns
// the screen. Call it before any goroutine logs.
func SetOutput(w io.Writer) {
	initLogger()
	logger = build(zapcore.Lock(zapcore.AddSync(w)))
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		atom.SetLevel(zapcore.DebugLevel)
	case LevelError:
		atom.SetLevel(zapcore.ErrorLevel)
	default:
		atom.SetLevel(zapcore.InfoLevel)
	}
}

// ParseLevel maps a config string ("debug", "info", "error") to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(LevelDebug):
		return LevelDebug
	case string(LevelError):
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

// Banner logs the startup banner once per process, no matter how many card
// instances call it.
func Banner(name, version string) {
	bannerOnce.Do(func() {
		Info(name+" starting", "version", version)
	})
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	initLogger()
	_ = logger.Sync()
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	// Odd trailing keys are dropped, matching the old formatter.
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}

	switch level {
	case LevelDebug:
		logger.Debugw(msg, kv...)
	case LevelError:
		logger.Errorw(msg, kv...)
	default:
		logger.Infow(msg, kv...)
	}
}
