package vecstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/operr"
)

// Config describes a segment.
type Config struct {
	// Path is the segment directory.
	Path string `yaml:"path"`
	// MemoryLimitBytes caps dense arena memory. 0 means unlimited.
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes"`
	// IOLimitBytesPerSec caps migration write throughput. 0 means unlimited.
	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec"`
	// FlushEveryOps flushes all storages after this many writes.
	// 0 flushes only on explicit Flush.
	FlushEveryOps int          `yaml:"flush_every_ops"`
	ColumnDB      ColumnConfig `yaml:"column_db"`
	// Vectors maps vector names to their storage settings.
	Vectors map[string]VectorConfig `yaml:"vectors"`
}

// ColumnConfig configures the column database.
type ColumnConfig struct {
	InMemory   bool `yaml:"in_memory"`
	SyncWrites bool `yaml:"sync_writes"`
}

// VectorConfig configures one named vector storage.
type VectorConfig struct {
	Dim      int             `yaml:"dim"`
	Distance distance.Metric `yaml:"distance"`
	// OnDisk selects the memmap backend for new storages. Existing storages
	// keep the backend recorded in the segment manifest.
	OnDisk          bool `yaml:"on_disk"`
	AsyncIO         bool `yaml:"async_io"`
	ReadParallelism int  `yaml:"read_parallelism"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes a YAML config and validates it.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, operr.Validation("invalid config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	if c.Path == "" {
		return operr.Validation("config: path is required")
	}
	if c.MemoryLimitBytes < 0 || c.IOLimitBytesPerSec < 0 || c.FlushEveryOps < 0 {
		return operr.Validation("config: limits must not be negative")
	}
	for _, name := range c.VectorNames() {
		if err := validVectorName(name); err != nil {
			return err
		}
		v := c.Vectors[name]
		if v.Dim <= 0 {
			return operr.Validation("config: vector %q: dim must be positive, got %d", name, v.Dim)
		}
		if !v.Distance.Valid() {
			return operr.Validation("config: vector %q: unknown distance %d", name, int(v.Distance))
		}
		if v.ReadParallelism < 0 {
			return operr.Validation("config: vector %q: read_parallelism must not be negative", name)
		}
	}
	return nil
}

// VectorNames returns the configured vector names in sorted order.
func (c Config) VectorNames() []string {
	names := make([]string, 0, len(c.Vectors))
	for name := range c.Vectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// validVectorName rejects names that cannot be used as a directory name.
func validVectorName(name string) error {
	if name == "" || name == "." || name == ".." {
		return operr.Validation("config: invalid vector name %q", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return operr.Validation("config: invalid vector name %q", name)
		}
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("Config{path=%s vectors=%v}", c.Path, c.VectorNames())
}
