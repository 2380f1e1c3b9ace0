package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how log records are written.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	Output     string `yaml:"output"` // stdout, file or both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

var (
	mu      sync.RWMutex
	current *zap.SugaredLogger
)

func setDefaults(cfg *Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.FilePath == "" {
		cfg.FilePath = filepath.Join("logs", "database.log")
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 30
	}
}

// New builds a zap logger from cfg without installing it.
func New(cfg Config) (*zap.Logger, error) {
	setDefaults(&cfg)

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var sinks []zapcore.WriteSyncer
	switch cfg.Output {
	case "stdout":
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	case "file", "both":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
		if cfg.Output == "both" {
			sinks = append(sinks, zapcore.AddSync(os.Stdout))
		}
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Init builds the process logger and installs it for the package helpers.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l for the package helpers. Tests use it with zaptest or observer loggers.
func Set(l *zap.Logger) {
	mu.Lock()
	current = l.Sugar()
	mu.Unlock()
}

// L returns the underlying zap logger.
func L() *zap.Logger {
	return sugar().Desugar()
}

func sugar() *zap.SugaredLogger {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		l, err := New(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		current = l.Sugar()
	}
	return current
}

// Sync flushes buffered records.
func Sync() error {
	return sugar().Sync()
}

// ParseLevel converts a string to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// maskSecret keeps a short prefix so operators can correlate records.
func maskSecret(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + "****"
}

func redactValue(key string, value interface{}) interface{} {
	keyLower := strings.ToLower(key)

	if strings.Contains(keyLower, "password") || strings.Contains(keyLower, "hash") {
		return "[REDACTED]"
	}

	if strings.Contains(keyLower, "key_code") || strings.Contains(keyLower, "master_key") ||
		strings.Contains(keyLower, "token") || strings.Contains(keyLower, "secret") {
		return maskSecret(fmt.Sprintf("%v", value))
	}

	return value
}

func redact(keysAndValues []interface{}) []interface{} {
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		if key, ok := out[i].(string); ok {
			out[i+1] = redactValue(key, out[i+1])
		}
	}
	return out
}

func Debug(msg string, keysAndValues ...interface{}) {
	sugar().Debugw(msg, redact(keysAndValues)...)
}

func Info(msg string, keysAndValues ...interface{}) {
	sugar().Infow(msg, redact(keysAndValues)...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	sugar().Warnw(msg, redact(keysAndValues)...)
}

func Error(msg string, keysAndValues ...interface{}) {
	sugar().Errorw(msg, redact(keysAndValues)...)
}
