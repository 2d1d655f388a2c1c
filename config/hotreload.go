// 配置热重载管理器实现。
//
// 监听配置文件，重新加载、校验并通知变更。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config *Config
	loader *Loader

	debounce     time.Duration
	pollInterval time.Duration
	watcher      *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	logger *zap.Logger

	running bool
	cancel  context.CancelFunc
}

// ChangeCallback 配置更改时调用
type ChangeCallback func(change ConfigChange)

// ReloadCallback 重新加载配置后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 代表一个字段的配置更改
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
}

// HotReloadableField 描述一个字段能否在运行时生效
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
}

// --- 可热重载字段注册表 ---

// hotReloadableFields lists fields with known reload behaviour. Fields not
// listed are treated as requiring a restart.
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level":                 {Path: "Log.Level", Description: "Log level (debug, info, warn, error)"},
	"Engine.MaxConcurrency":     {Path: "Engine.MaxConcurrency", Description: "Concurrent node limit", RequiresRestart: true},
	"Engine.NodeTimeout":        {Path: "Engine.NodeTimeout", Description: "Per-node processor timeout", RequiresRestart: true},
	"LLM.Model":                 {Path: "LLM.Model", Description: "Default model", RequiresRestart: true},
	"LLM.APIKey":                {Path: "LLM.APIKey", Description: "LLM API key", RequiresRestart: true, Sensitive: true},
	"Server.APIKeys":            {Path: "Server.APIKeys", Description: "API keys", RequiresRestart: true, Sensitive: true},
	"Server.JWT.Secret":         {Path: "Server.JWT.Secret", Description: "JWT HMAC secret", RequiresRestart: true, Sensitive: true},
	"Server.HTTPPort":           {Path: "Server.HTTPPort", Description: "HTTP server port", RequiresRestart: true},
	"Server.MetricsPort":        {Path: "Server.MetricsPort", Description: "Metrics server port", RequiresRestart: true},
	"Telemetry.SampleRate":      {Path: "Telemetry.SampleRate", Description: "Trace sample rate", RequiresRestart: true},
	"Server.CORSAllowedOrigins": {Path: "Server.CORSAllowedOrigins", Description: "CORS origins", RequiresRestart: true},
}

// IsHotReloadable reports whether a change to path takes effect without a restart.
func IsHotReloadable(path string) bool {
	field, ok := hotReloadableFields[path]
	return ok && !field.RequiresRestart
}

// --- 热重载管理器选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置日志
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReloadPollInterval 设置文件轮询间隔与防抖时间
func WithReloadPollInterval(poll, debounce time.Duration) HotReloadOption {
	return func(m *HotReloadManager) {
		m.pollInterval = poll
		m.debounce = debounce
	}
}

// NewHotReloadManager creates a manager serving config and reloading it
// through loader. A loader without a config path never watches files.
func NewHotReloadManager(config *Config, loader *Loader, opts ...HotReloadOption) *HotReloadManager {
	if loader == nil {
		loader = NewLoader()
	}
	m := &HotReloadManager{
		config:       config,
		loader:       loader,
		debounce:     500 * time.Millisecond,
		pollInterval: time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	return m
}

// Start 启动文件监听
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	path := m.loader.ConfigPath()
	if path != "" {
		watcher, err := NewFileWatcher(
			[]string{path},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(m.debounce),
			WithPollInterval(m.pollInterval),
		)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)

		watchCtx, cancel := context.WithCancel(ctx)
		if err := watcher.Start(watchCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
		m.cancel = cancel
	}

	m.running = true
	m.logger.Info("Hot reload manager started", zap.String("config_path", path))
	return nil
}

// Stop 停止热重载管理器
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("Failed to stop file watcher", zap.Error(err))
		}
	}
	m.running = false
	m.logger.Info("Hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("Configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("Failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile reloads through the loader; an invalid file keeps the
// current configuration.
func (m *HotReloadManager) ReloadFromFile() error {
	newConfig, err := m.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	m.ApplyConfig(newConfig, "file")
	return nil
}

// ApplyConfig swaps in newConfig and notifies callbacks outside the lock.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) []ConfigChange {
	m.mu.Lock()
	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	now := time.Now()
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
		field, known := hotReloadableFields[changes[i].Path]
		changes[i].RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
	}
	m.config = newConfig
	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	requiresRestart := false
	for _, change := range changes {
		if change.RequiresRestart {
			requiresRestart = true
		}
		m.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue))
		for _, cb := range changeCallbacks {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}

	if requiresRestart {
		m.logger.Warn("Some configuration changes require restart to take effect")
	}
	return changes
}

// OnChange 注册配置更改的回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册配置重新加载的回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// GetConfig returns the current configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// detectChanges lists leaf fields that differ, sorted by path.
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	if oldConfig == nil || newConfig == nil {
		return changes
	}
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}
