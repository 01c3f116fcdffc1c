package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watcher 配置热更新监听器
// 监听配置文件变更并通知订阅者,订阅者自行决定哪些变更可以热应用
// (日志级别、限流阈值),哪些需要重启(数据库、端口)
type Watcher struct {
	path  string
	viper *viper.Viper
	log   *logrus.Logger

	mu          sync.RWMutex
	current     *Config
	subscribers []func(*Config)

	stopMu  sync.RWMutex
	stopped bool
}

// NewWatcher 创建配置监听器
func NewWatcher(cfg *Config, configPath string, log *logrus.Logger) *Watcher {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	return &Watcher{
		path:    configPath,
		viper:   v,
		log:     log,
		current: cfg,
	}
}

// Subscribe 注册配置变更回调
// 必须在 Start 之前注册,回调在 fsnotify 的事件 goroutine 中执行
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Start 开始监听配置文件
func (w *Watcher) Start() error {
	if err := w.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", w.path, err)
	}

	w.viper.WatchConfig()
	w.viper.OnConfigChange(func(e fsnotify.Event) {
		w.stopMu.RLock()
		stopped := w.stopped
		w.stopMu.RUnlock()
		if stopped {
			return
		}

		var next Config
		if err := w.viper.Unmarshal(&next); err != nil {
			w.log.WithError(err).WithField("path", w.path).
				Warn("Ignoring config change, failed to unmarshal")
			return
		}

		w.mu.Lock()
		w.current = &next
		subscribers := make([]func(*Config), len(w.subscribers))
		copy(subscribers, w.subscribers)
		w.mu.Unlock()

		w.log.WithField("path", w.path).Info("Config file changed, applying hot-reloadable settings")
		for _, fn := range subscribers {
			fn(&next)
		}
	})

	return nil
}

// Stop 停止向订阅者分发变更
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	w.stopped = true
}

// Current 返回最近一次成功加载的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
