package config

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigWatcher 配置监听器
// 配置文件变化时重新加载,并把新配置传给已注册的回调
type ConfigWatcher struct {
	path     string
	v        *viper.Viper
	stopped  atomic.Bool
	mu       sync.RWMutex
	current  *Config
	handlers []func(*Config)
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string) *ConfigWatcher {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigWatcher{path: configPath, v: v, current: cfg}
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(handler func(*Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// Start 读取配置文件并开始监听变更
func (w *ConfigWatcher) Start() error {
	if err := w.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	w.v.OnConfigChange(func(fsnotify.Event) { w.reload() })
	w.v.WatchConfig()
	return nil
}

// reload 重新解析配置并通知回调,解析失败时保留旧配置
func (w *ConfigWatcher) reload() {
	if w.stopped.Load() {
		return
	}

	next, err := unmarshal(w.v)
	if err != nil {
		logrus.WithError(err).WithField("path", w.path).Warn("ignoring invalid config change")
		return
	}

	w.mu.Lock()
	w.current = next
	handlers := make([]func(*Config), len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
}

// Stop 停止分发变更,viper 的文件监听随进程退出
func (w *ConfigWatcher) Stop() {
	w.stopped.Store(true)
}

// GetConfig 获取当前配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
