/*
Package logger 全局日志

基于 zap 的结构化日志：
  - console / json 两种编码
  - 配置 OutputPath 后由 lumberjack 负责文件轮转，同时输出到控制台
  - 敏感字段（password / token / secret / apiKey / authorization）在编码前统一替换为 ***
  - Init 可重复调用，每次都会替换 zap.L()，各组件通过 zap.L().Named(...) 共享同一输出

	logger.Init(&logger.Config{Level: "info", Format: "console"})
	logger.Info("fleet manager started", zap.String("addr", ":8080"))
*/
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

/* Logger 全局日志器 */
var Logger = zap.NewNop()

/*
Config 日志配置
功能：级别、编码格式、文件轮转策略
*/
type Config struct {
	Level      string /* debug, info, warn, error */
	Format     string /* json, console */
	OutputPath string /* 为空则仅输出到控制台 */
	MaxSize    int    /* MB */
	MaxBackups int
	MaxAge     int /* 天 */
	Compress   bool
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 10
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30
	}
}

/*
Init 初始化或重建全局日志器
功能：启动时先以默认配置调用，加载配置文件后再次调用
*/
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	core := NewMaskingCore(zapcore.NewCore(buildEncoder(cfg.Format), sink, parseLevel(cfg.Level)))
	Logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	zap.ReplaceGlobals(Logger)
	return nil
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func buildEncoder(format string) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	/* 终端输出带颜色 */
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}

func buildSink(cfg *Config) (zapcore.WriteSyncer, error) {
	stdout := zapcore.AddSync(os.Stdout)
	if cfg.OutputPath == "" {
		return stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewMultiWriteSyncer(zapcore.AddSync(file), stdout), nil
}

/* Sync 刷新缓冲区，退出前调用 */
func Sync() {
	_ = Logger.Sync()
}

/* Named 创建带模块名的子日志器 */
func Named(name string) *zap.Logger {
	return Logger.Named(name)
}

func Debug(msg string, fields ...zap.Field) { Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger.Error(msg, fields...) }

/* Fatal 记录后 os.Exit(1) */
func Fatal(msg string, fields ...zap.Field) { Logger.Fatal(msg, fields...) }
