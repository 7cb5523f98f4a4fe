package vecstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/operr"
)

const sampleConfig = `
path: /var/lib/vecstore/segment-0
memory_limit_bytes: 1073741824
io_limit_bytes_per_sec: 52428800
flush_every_ops: 1000
column_db:
  sync_writes: true
vectors:
  text:
    dim: 384
    distance: cosine
  image:
    dim: 512
    distance: dot
    on_disk: true
    async_io: true
    read_parallelism: 32
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vecstore/segment-0", cfg.Path)
	assert.Equal(t, int64(1<<30), cfg.MemoryLimitBytes)
	assert.Equal(t, 1000, cfg.FlushEveryOps)
	assert.True(t, cfg.ColumnDB.SyncWrites)
	assert.Equal(t, []string{"image", "text"}, cfg.VectorNames())
	assert.Equal(t, VectorConfig{Dim: 384, Distance: distance.Cosine}, cfg.Vectors["text"])
	assert.Equal(t, VectorConfig{Dim: 512, Distance: distance.DotProduct, OnDisk: true, AsyncIO: true, ReadParallelism: 32}, cfg.Vectors["image"])
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vecstore.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{Path: "/tmp/x", Vectors: map[string]VectorConfig{"a": {Dim: 4}}}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"missing path":     func(c *Config) { c.Path = "" },
		"zero dim":         func(c *Config) { c.Vectors["a"] = VectorConfig{Dim: 0} },
		"negative dim":     func(c *Config) { c.Vectors["a"] = VectorConfig{Dim: -1} },
		"unknown distance": func(c *Config) { c.Vectors["a"] = VectorConfig{Dim: 4, Distance: distance.Metric(42)} },
		"negative limit":   func(c *Config) { c.MemoryLimitBytes = -1 },
		"negative flush":   func(c *Config) { c.FlushEveryOps = -1 },
		"slash in name":    func(c *Config) { c.Vectors["a/b"] = VectorConfig{Dim: 1} },
		"dotdot name":      func(c *Config) { c.Vectors[".."] = VectorConfig{Dim: 1} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), operr.ErrValidation)
		})
	}
}

func TestParseConfigRejectsUnknownDistance(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("path: x\nvectors:\n  a:\n    dim: 4\n    distance: hamming\n"))
	assert.ErrorIs(t, err, operr.ErrValidation)
}

func TestParseConfigRejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("path: x\nshards: 4\n"))
	assert.ErrorIs(t, err, operr.ErrValidation)
}
