// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(noEnv).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]
  jwt:
    secret: "s3cret"
    issuer: "nodeflow"

engine:
  max_concurrency: 2
  node_timeout: 5s
  preview: true

llm:
  base_url: "http://localhost:11434"
  model: "llama3"

log:
  level: "debug"
  format: "console"
`)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnvLookup(noEnv).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.True(t, cfg.Server.JWT.Enabled())
	assert.Equal(t, "nodeflow", cfg.Server.JWT.Issuer)

	assert.Equal(t, 2, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Engine.NodeTimeout)
	assert.True(t, cfg.Engine.Preview)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 256, cfg.Engine.RunRetention)

	assert.True(t, cfg.LLM.Configured())
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("NODEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("NODEFLOW_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("NODEFLOW_SERVER_JWT_AUDIENCE", "editor")
	t.Setenv("NODEFLOW_ENGINE_NODE_TIMEOUT", "90s")
	t.Setenv("NODEFLOW_ENGINE_PREVIEW", "true")
	t.Setenv("NODEFLOW_LLM_API_KEY", "sk-env")
	t.Setenv("NODEFLOW_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("NODEFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "editor", cfg.Server.JWT.Audience)
	assert.Equal(t, 90*time.Second, cfg.Engine.NodeTimeout)
	assert.True(t, cfg.Engine.Preview)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 0.0001)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_port: 8888
llm:
  model: "yaml-model"
  base_url: "http://yaml"
`)
	env := map[string]string{
		"NODEFLOW_SERVER_HTTP_PORT": "9999",
		"NODEFLOW_LLM_BASE_URL":     "http://env",
	}

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnvLookup(mapEnv(env)).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "http://env", cfg.LLM.BaseURL)
	assert.Equal(t, "yaml-model", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	env := map[string]string{
		"MYAPP_SERVER_HTTP_PORT":         "6666",
		"MYAPP_ENGINE_MAX_CONCURRENCY":   "3",
		"NODEFLOW_ENGINE_MAX_CONCURRENCY": "99",
	}

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		WithEnvLookup(mapEnv(env)).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Engine.MaxConcurrency)
}

func TestLoader_BadEnvValue(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(mapEnv(map[string]string{"NODEFLOW_ENGINE_NODE_TIMEOUT": "soon"})).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NODEFLOW_ENGINE_NODE_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(mapEnv(map[string]string{"NODEFLOW_ENGINE_MAX_CONCURRENCY": "0"})).
		WithValidator((*Config).Validate).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrency")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/nodeflow.yaml").
		WithEnvLookup(noEnv).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_port: [invalid
  this is not valid yaml
`)

	_, err := NewLoader().WithConfigPath(configPath).WithEnvLookup(noEnv).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "negative HTTP port", modify: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "invalid HTTP port"},
		{name: "HTTP port too large", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "metrics port collides", modify: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "metrics port"},
		{name: "metrics disabled", modify: func(c *Config) { c.Server.MetricsPort = 0 }},
		{name: "zero concurrency", modify: func(c *Config) { c.Engine.MaxConcurrency = 0 }, wantErr: "max_concurrency"},
		{name: "negative node timeout", modify: func(c *Config) { c.Engine.NodeTimeout = -time.Second }, wantErr: "node_timeout"},
		{name: "zero history", modify: func(c *Config) { c.Engine.HistoryCapacity = 0 }, wantErr: "history_capacity"},
		{name: "unknown log level", modify: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log level"},
		{name: "unknown log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log format"},
		{name: "sample rate too high", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	configPath := writeConfig(t, "server:\n  http_port: 8081\n")

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8081, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml")

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("NODEFLOW_LLM_MODEL", "env-only-model")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-model", cfg.LLM.Model)
}

// --- helpers ---

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func mapEnv(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}
