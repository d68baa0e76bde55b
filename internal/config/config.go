// Package config loads persistent defaults for the facesort CLI from a YAML
// file, so tuned parameters do not have to be repeated on every invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the configuration directory name under $HOME
	DefaultBaseDir = ".facesort"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config holds the tunable defaults. Command-line flags override these.
type Config struct {
	// Eps is the default clustering radius.
	Eps float64 `yaml:"eps,omitempty"`

	// MinFaces is the default minimum neighborhood size for a core point.
	MinFaces int `yaml:"min_faces,omitempty"`

	// Workers is the default number of Python worker processes.
	Workers int `yaml:"workers,omitempty"`

	// Index selects the default neighborhood index ("auto", "brute", "kdtree").
	Index string `yaml:"index,omitempty"`

	// DatabaseURL is the person-registry connection string. Empty disables
	// the registry.
	DatabaseURL string `yaml:"database_url,omitempty"`

	// CacheDir overrides the default embedding-cache location.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// WorkerScript overrides the bundled Python worker path.
	WorkerScript string `yaml:"worker_script,omitempty"`
}

// Default returns the built-in settings. The clustering values are the ones
// tuned for the face_recognition embedding space.
func Default() Config {
	return Config{
		Eps:          0.55,
		MinFaces:     2,
		Workers:      4,
		Index:        "auto",
		WorkerScript: "python/embed_worker.py",
	}
}

// Load reads the configuration at path. An empty path means the default
// location, where a missing file simply yields the built-in defaults; an
// explicit path that cannot be read is an error. Fields left unset in the
// file fall back to their defaults.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, DefaultBaseDir, DefaultConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Eps == 0 {
		c.Eps = d.Eps
	}
	if c.MinFaces == 0 {
		c.MinFaces = d.MinFaces
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.Index == "" {
		c.Index = d.Index
	}
	if c.WorkerScript == "" {
		c.WorkerScript = d.WorkerScript
	}
}

// ResolveCacheDir returns the embedding-cache directory, defaulting to a
// facesort folder under the OS user cache dir.
func (c Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "facesort"), nil
}
