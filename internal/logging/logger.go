package logging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/readthrough/internal/config"
)

// InitLogger 构建进程级 logger 并同步到 logrus 全局实例；console 通常为 stdout。
func InitLogger(cfg config.GlobalConfig, console io.Writer) (*logrus.Logger, error) {
	logger, err := NewLogger(cfg, console)
	if err != nil {
		return nil, err
	}
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
	return logger, nil
}

// NewLogger 构建 JSON logger：配置了 LogFilePath 时写入滚动文件，否则写 console。
// 日志文件不可用时退回 console 并记录一条 logger_fallback。
func NewLogger(cfg config.GlobalConfig, console io.Writer) (*logrus.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	output, outErr := buildOutput(cfg, console)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(targetRedactHook{})

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// parseLevel 空值按 info 处理。
func parseLevel(raw string) (logrus.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return level, fmt.Errorf("无法解析日志级别: %w", err)
	}
	return level, nil
}

func buildOutput(cfg config.GlobalConfig, console io.Writer) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return console, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return console, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// targetRedactHook 隐藏 target 字段中 userinfo 的密码部分，源站凭证不会落入日志。
type targetRedactHook struct{}

func (targetRedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (targetRedactHook) Fire(entry *logrus.Entry) error {
	raw, ok := entry.Data["target"].(string)
	if !ok || !strings.Contains(raw, "@") {
		return nil
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.User != nil {
		entry.Data["target"] = parsed.Redacted()
	}
	return nil
}
