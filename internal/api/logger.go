package api

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mautops/procure-gin/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	defaultLogger *logrus.Logger
	loggerMu      sync.Mutex
)

// NewLoggerFromConfig 根据配置创建日志记录器
func NewLoggerFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FullTimestamp:   true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var writers []io.Writer
	if cfg.Output == "stdout" || cfg.Output == "both" {
		writers = append(writers, os.Stdout)
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(filepath.Join(logDir, "procure-gin.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	logger.SetOutput(io.MultiWriter(writers...))

	// 固定字段,供日志聚合按服务过滤
	logger.AddHook(&defaultFieldsHook{
		fields: map[string]interface{}{
			"service": "procure-gin",
		},
	})

	return logger, nil
}

// defaultFieldsHook 给每条日志附加固定字段
type defaultFieldsHook struct {
	fields map[string]interface{}
}

func (h *defaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *defaultFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		entry.Data[k] = v
	}
	return nil
}

// SetDefaultLogger 安装包级默认日志记录器
// 容器初始化后调用,让请求日志中间件与业务日志走同一个出口
func SetDefaultLogger(logger *logrus.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// GetLogger 获取默认日志记录器,未安装时退回标准配置
func GetLogger() *logrus.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = logrus.New()
		defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	}
	return defaultLogger
}

// SetLoggerLevel 调整默认日志级别,配置热更新时调用
func SetLoggerLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}
