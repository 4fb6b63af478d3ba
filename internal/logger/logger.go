// Package logger wraps zap with the console and rotating file outputs used
// by the CLI and the provisioning engine.
//
//	opts := logger.DefaultOptions()
//	opts.FileOutput = true
//	opts.LogFilePath = "/var/log/vpndeploy.log"
//	logger.Init(opts)
//	defer logger.SyncGlobal()
//
//	logger.Info("connecting to %s", host)
//	logger.Success("container %s is up", name)
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level controls verbosity.
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	// SuccessLevel is written at zap's info level with a success=true field.
	SuccessLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case SuccessLevel:
		return "success"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", l)
	}
}

// ToZapLevel converts Level to zapcore.Level.
func (l Level) ToZapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel, SuccessLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "success":
		return SuccessLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Options holds configuration for the logger.
type Options struct {
	ConsoleLevel  Level
	FileLevel     Level
	ConsoleOutput bool
	// ConsoleWriter defaults to os.Stderr so command output on stdout
	// stays clean.
	ConsoleWriter io.Writer
	ColorConsole  bool
	FileOutput    bool
	LogFilePath   string
	// Rotation settings handed to lumberjack.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	TimestampFormat string
}

// DefaultOptions logs info and above to a colored console, no file.
func DefaultOptions() Options {
	return Options{
		ConsoleLevel:    InfoLevel,
		FileLevel:       DebugLevel,
		ConsoleOutput:   true,
		ColorConsole:    true,
		MaxSizeMB:       10,
		MaxBackups:      3,
		MaxAgeDays:      28,
		Compress:        true,
		TimestampFormat: time.RFC3339,
	}
}

// Logger is a zap.SugaredLogger with a success level.
type Logger struct {
	*zap.SugaredLogger
}

var (
	globalLogger *Logger
	mu           sync.Mutex
)

// Init sets the global logger. Later calls replace it, which lets the CLI
// reconfigure once flags are parsed. On error a plain stderr logger is used.
func Init(opts Options) {
	l, err := NewLogger(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v. Falling back to console logging.\n", err)
		fallback := DefaultOptions()
		fallback.ColorConsole = false
		l, _ = NewLogger(fallback)
	}

	mu.Lock()
	old := globalLogger
	globalLogger = l
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
}

// Get returns the global logger, initialising it with defaults if needed.
func Get() *Logger {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l == nil {
		Init(DefaultOptions())
		mu.Lock()
		l = globalLogger
		mu.Unlock()
	}
	return l
}

// NewLogger builds a logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	if opts.TimestampFormat == "" {
		opts.TimestampFormat = time.RFC3339
	}

	var cores []zapcore.Core

	if opts.ConsoleOutput {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encCfg.CallerKey = ""
		if opts.ColorConsole {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}

		w := opts.ConsoleWriter
		if w == nil {
			w = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(zapcore.AddSync(w)),
			opts.ConsoleLevel.ToZapLevel(),
		))
	}

	if opts.FileOutput {
		if opts.LogFilePath == "" {
			return nil, fmt.Errorf("log file path cannot be empty when file output is enabled")
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(opts.TimestampFormat)
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

		rotator := &lumberjack.Logger{
			Filename:   opts.LogFilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotator),
			opts.FileLevel.ToZapLevel(),
		))
	}

	if len(cores) == 0 {
		return &Logger{SugaredLogger: zap.NewNop().Sugar()}, nil
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{SugaredLogger: z.Sugar()}, nil
}

// With returns a child logger carrying structured context.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// Successf logs a completed step.
func (l *Logger) Successf(template string, args ...interface{}) {
	l.SugaredLogger.Infow(fmt.Sprintf(template, args...), "success", true)
}

// Debug logs at debug level through the global logger.
func Debug(template string, args ...interface{}) {
	Get().Debugf(template, args...)
}

// Info logs at info level through the global logger.
func Info(template string, args ...interface{}) {
	Get().Infof(template, args...)
}

// Success logs a completed step through the global logger.
func Success(template string, args ...interface{}) {
	Get().Successf(template, args...)
}

// Warn logs at warn level through the global logger.
func Warn(template string, args ...interface{}) {
	Get().Warnf(template, args...)
}

// Error logs at error level through the global logger.
func Error(template string, args ...interface{}) {
	Get().Errorf(template, args...)
}

// SyncGlobal flushes the global logger.
func SyncGlobal() {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}
