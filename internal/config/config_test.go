package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	result := cfg.Validate()
	assert.NoError(t, result.Err())
	assert.Equal(t, 2, cfg.Extract.DefaultDepth)
	assert.True(t, cfg.Graph.RichTraversal)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  uri: bolt://graph.internal:7687
  user: fraud
explain:
  workers: 2
  result_store: bolt
  bolt_path: /tmp/explanations.db
extract:
  default_depth: 3
  max_depth: 4
`), 0644))

	t.Setenv("NEO4J_PASSWORD", "s3cret-value")
	t.Setenv("MODEL_PATH", "/models/linear.yaml")
	t.Setenv("NEO4J_RICH_TRAVERSAL", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph.URI)
	assert.Equal(t, "fraud", cfg.Graph.User)
	assert.Equal(t, "s3cret-value", cfg.Graph.Password)
	assert.False(t, cfg.Graph.RichTraversal)
	assert.Equal(t, "/models/linear.yaml", cfg.Model.Path)
	assert.Equal(t, 2, cfg.Explain.Workers)
	assert.Equal(t, "bolt", cfg.Explain.ResultStore)
	assert.Equal(t, 3, cfg.Extract.DefaultDepth)
}

func TestApplyEnvOverrides_KeychainFallback(t *testing.T) {
	keyring.MockInit()
	kc := NewKeychain()
	require.NoError(t, kc.Store(SecretGraphPassword, "from-keychain"))
	require.NoError(t, kc.Store(SecretRedisPassword, "redis-keychain"))
	defer kc.Remove(SecretGraphPassword)
	defer kc.Remove(SecretRedisPassword)

	t.Setenv("NEO4J_PASSWORD", "")
	t.Setenv("REDIS_ADDR", "")
	cfg := Default()
	applyEnvOverrides(cfg, kc)
	assert.Equal(t, "from-keychain", cfg.Graph.Password)
	assert.Empty(t, cfg.Redis.Password, "no redis configured, no redis secret")

	t.Setenv("NEO4J_PASSWORD", "from-env")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg = Default()
	applyEnvOverrides(cfg, kc)
	assert.Equal(t, "from-env", cfg.Graph.Password, "env var takes precedence over keychain")
	assert.Equal(t, "redis-keychain", cfg.Redis.Password)
}

func TestKeychain_RemoveMissingIsNoop(t *testing.T) {
	keyring.MockInit()
	kc := NewKeychain()
	assert.True(t, kc.Available())
	assert.NoError(t, kc.Remove(SecretGraphPassword))

	got, err := kc.Lookup(SecretGraphPassword)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Error(t, kc.Store(SecretGraphPassword, ""))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad scheme", func(c *Config) { c.Graph.URI = "http://localhost:7474" }, "scheme"},
		{"no workers", func(c *Config) { c.Explain.Workers = 0 }, "explain.workers"},
		{"redis without addr", func(c *Config) { c.Explain.ResultStore = "redis" }, "REDIS_ADDR"},
		{"unknown store", func(c *Config) { c.Explain.ResultStore = "s3" }, "result_store"},
		{"depth bounds", func(c *Config) { c.Extract.MaxDepth = 1 }, "max_depth"},
		{"thresholds", func(c *Config) { c.Explain.Risk.MediumThreshold = 0.9 }, "thresholds"},
		{"score timeout", func(c *Config) { c.Model.ScoreTimeout = 0 * time.Second }, "score_timeout"},
		{"audit driver", func(c *Config) { c.Audit.DSN = "x"; c.Audit.Driver = "mysql" }, "audit.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate().Err()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "s3c...ue", MaskSecret("s3cret-value"))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("FG_INT", "12")
	t.Setenv("FG_BAD_INT", "twelve")
	t.Setenv("FG_BLANK", "   ")
	t.Setenv("FG_DUR", "750ms")
	t.Setenv("FG_FLOAT", "2.5")
	t.Setenv("FG_BOOL", "false")

	assert.Equal(t, 12, GetInt("FG_INT", 3))
	assert.Equal(t, 3, GetInt("FG_BAD_INT", 3))
	assert.Equal(t, "fallback", GetString("FG_BLANK", "fallback"))
	assert.Equal(t, 750*time.Millisecond, GetDuration("FG_DUR", time.Second))
	assert.Equal(t, time.Second, GetDuration("FG_UNSET", time.Second))
	assert.Equal(t, 2.5, GetFloat("FG_FLOAT", 1))
	assert.False(t, GetBool("FG_BOOL", true))
}
