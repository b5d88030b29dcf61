// Package logger 提供基于 zap 的全局日志
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once  sync.Once
	mu    sync.RWMutex
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`             // debug, info, warn, error
	Format     string `yaml:"format" env:"LOG_FORMAT"`           // json, console
	Output     string `yaml:"output" env:"LOG_OUTPUT"`           // stderr, stdout, file, both
	FilePath   string `yaml:"file_path" env:"LOG_FILE_PATH"`     // output=file/both 时使用
	MaxSize    int    `yaml:"max_size" env:"LOG_MAX_SIZE"`       // MB
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"` // 保留的旧文件数
	MaxAge     int    `yaml:"max_age" env:"LOG_MAX_AGE"`         // days
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Init 初始化全局日志，只有第一次调用生效
func Init(cfg *Config) {
	once.Do(func() {
		l := New(cfg)
		mu.Lock()
		log = l
		mu.Unlock()
	})
}

// New 根据配置创建日志实例，不影响全局日志
func New(cfg *Config) *zap.Logger {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	level.SetLevel(ParseLevel(cfg.Level))

	encoder := newEncoder(cfg.Format)

	var cores []zapcore.Core
	switch cfg.Output {
	case "stdout":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	case "file":
		if w := fileWriter(cfg); w != nil {
			cores = append(cores, zapcore.NewCore(encoder, w, level))
		}
	case "both":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
		if w := fileWriter(cfg); w != nil {
			cores = append(cores, zapcore.NewCore(newEncoder("json"), w, level))
		}
	default:
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// NewWriter 创建写入任意 io.Writer 的日志实例，用于测试和摘要输出
func NewWriter(w io.Writer, lvl string) *zap.Logger {
	core := zapcore.NewCore(newEncoder("json"), zapcore.AddSync(w), ParseLevel(lvl))
	return zap.New(core)
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func fileWriter(cfg *Config) zapcore.WriteSyncer {
	if cfg.FilePath == "" {
		return nil
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

// ParseLevel 解析日志级别，未知值回退到 info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 运行期调整全局日志级别（--debug / --quiet）
func SetLevel(s string) {
	level.SetLevel(ParseLevel(s))
}

// SetLogger 替换全局日志实例，返回恢复函数
func SetLogger(l *zap.Logger) (restore func()) {
	mu.Lock()
	prev := log
	log = l
	mu.Unlock()
	return func() {
		mu.Lock()
		log = prev
		mu.Unlock()
	}
}

// L 获取日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(nil)
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Named 返回带组件名的子日志
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// IsDebugEnabled 检查是否启用调试日志
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
