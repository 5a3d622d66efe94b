package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	coreerrors "sharedstream/internal/core/errors"
)

// Config 日志配置
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text / json
	Output string `json:"output" yaml:"output"` // stdout / stderr / file
	File   string `json:"file" yaml:"file"`
}

var (
	defaultLogger     Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
	currentLogFile    *os.File
)

func initDefaultLogger() {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	defaultLogger = NewLogrusLogger(l)
}

// Default 获取默认 Logger
func Default() Logger {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault 设置默认 Logger
func SetDefault(l Logger) {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// SetDefaultFromLogrus 从 logrus.Logger 设置默认 Logger
func SetDefaultFromLogrus(l *logrus.Logger) {
	SetDefault(NewLogrusLogger(l))
}

// NewLogrus 按配置创建 logrus.Logger，output=file 时返回打开的文件供调用方关闭
func NewLogrus(cfg Config) (*logrus.Logger, *os.File, error) {
	l := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "invalid log level %q", cfg.Level)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid log format %q", cfg.Format)
	}

	var file *os.File
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, coreerrors.New(coreerrors.CodeConfigError, "log output is file but no file path given")
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to open log file %q", cfg.File)
		}
		out = file
	case "discard":
		out = io.Discard
	default:
		return nil, nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid log output %q", cfg.Output)
	}
	l.SetOutput(out)

	return l, file, nil
}

// Configure 按配置创建 Logger 并设为默认
func Configure(cfg Config) (Logger, error) {
	l, file, err := NewLogrus(cfg)
	if err != nil {
		return nil, err
	}

	defaultLoggerMu.Lock()
	prev := currentLogFile
	currentLogFile = file
	defaultLoggerMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	logger := NewLogrusLogger(l)
	SetDefault(logger)
	return logger, nil
}

// Debug 记录调试日志
func Debug(args ...interface{}) { Default().Debug(args...) }

// Info 记录信息日志
func Info(args ...interface{}) { Default().Info(args...) }

// Warn 记录警告日志
func Warn(args ...interface{}) { Default().Warn(args...) }

// Error 记录错误日志
func Error(args ...interface{}) { Default().Error(args...) }

func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Default().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Default().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// WithField 创建带字段的日志
func WithField(key string, value interface{}) Logger {
	return Default().WithField(key, value)
}

// WithFields 创建带多个字段的日志
func WithFields(fields map[string]interface{}) Logger {
	return Default().WithFields(fields)
}

// WithError 创建带错误的日志
func WithError(err error) Logger {
	return Default().WithError(err)
}
