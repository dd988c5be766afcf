package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tether/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "tether.yaml", `
log:
  level: debug
model:
  name: llama3.1:8b
  temperature: 0.2
  timeout: 90s
store:
  driver: redis
  ttl: 24h
  prefix: "demo:"
locking:
  distributed: "true"
pipeline:
  classifier: redis
  retry_cap: "5"
privacy:
  mask_fields: "username,email"
`)
	cfg, err := config.Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, "llama3.1:8b", cfg.Model.Name)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-6)
	assert.Equal(t, 90*time.Second, cfg.Model.Timeout)
	assert.Equal(t, config.StoreRedis, cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "demo:", cfg.Store.Prefix)
	assert.True(t, cfg.Locking.Distributed)
	assert.Equal(t, 5, cfg.Pipeline.RetryCap)
	assert.Equal(t, []string{"username", "email"}, cfg.Privacy.MaskFields)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "tether.yaml", "store:\n  drvier: file\n")
	_, err := config.Load(path, "")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "tether.yaml", "store:\n  driver: file\nserver:\n  addr: \":9000\"\n")
	t.Setenv("TETHER_SERVER_ADDR", ":7000")
	t.Setenv("TETHER_MODEL_NAME", "qwen2.5:14b")
	t.Setenv("TETHER_LOCKING_TTL", "1m")

	cfg, err := config.Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, config.StoreFile, cfg.Store.Driver)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "qwen2.5:14b", cfg.Model.Name)
	assert.Equal(t, time.Minute, cfg.Locking.TTL)
}

func TestLoad_DotEnv(t *testing.T) {
	env := writeFile(t, ".env", "TETHER_PIPELINE_COMPLETION_RATE=0.5\n")
	t.Cleanup(func() { os.Unsetenv("TETHER_PIPELINE_COMPLETION_RATE") })

	cfg, err := config.Load("", env)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Pipeline.CompletionRate)

	_, err = config.Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"Valid Encryption", func(c *config.Config) { c.Encryption.Key = key }, ""},
		{"Unknown Store", func(c *config.Config) { c.Store.Driver = "etcd" }, "unknown store driver"},
		{"Redis Classifier Without Redis", func(c *config.Config) { c.Pipeline.Classifier = config.ClassifierRedis }, "needs the redis store"},
		{"Process Classifier Without Jobs", func(c *config.Config) { c.Pipeline.Classifier = config.ClassifierProcess }, "needs a jobs file"},
		{"Distributed Lock Without Redis", func(c *config.Config) { c.Locking.Distributed = true }, "distributed locking"},
		{"Rate Out Of Range", func(c *config.Config) { c.Pipeline.CompletionRate = 1.5 }, "completion rate"},
		{"Short Key", func(c *config.Config) { c.Encryption.Key = base64.StdEncoding.EncodeToString([]byte("short")) }, "want 32 bytes"},
		{"Bad Fallback", func(c *config.Config) {
			c.Encryption.Key = key
			c.Encryption.FallbackKeys = []string{"%%%"}
		}, "fallback key 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEncryptionKeys(t *testing.T) {
	active := strings.Repeat("a", 32)
	old := strings.Repeat("o", 32)
	cfg := config.Default()
	cfg.Encryption.Key = base64.StdEncoding.EncodeToString([]byte(active))
	cfg.Encryption.FallbackKeys = []string{base64.StdEncoding.EncodeToString([]byte(old))}

	a, fallback, err := cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Equal(t, []byte(active), a)
	assert.Equal(t, [][]byte{[]byte(old)}, fallback)
}
