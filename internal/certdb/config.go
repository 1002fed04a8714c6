package certdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File and directory names under the storage root.
const (
	ConfigFile = "certdb.yaml"
	IndexFile  = "index.db"
	CertsDir   = "certs"
	LockFile   = ".lock"
)

const configVersion = 1

// SchemaConfig records the storage schema so a reopened store uses the
// layout it was created with.
type SchemaConfig struct {
	Name   string `yaml:"name"`
	Levels int    `yaml:"levels,omitempty"`
	Width  int    `yaml:"width,omitempty"`
}

// StorageConfig is the content of certdb.yaml.
type StorageConfig struct {
	Version     int          `yaml:"version"`
	Schema      SchemaConfig `yaml:"schema"`
	Created     time.Time    `yaml:"created"`
	Owner       string       `yaml:"owner,omitempty"`
	Description string       `yaml:"description,omitempty"`
}

// LoadConfig reads the storage config under root.
func LoadConfig(root string) (*StorageConfig, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("opening %s: %w", root, ErrNotInitialized)
		}
		return nil, fmt.Errorf("reading storage config: %w", err)
	}
	var cfg StorageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing storage config: %w", err)
	}
	if cfg.Version != configVersion {
		return nil, fmt.Errorf("unsupported storage config version %d", cfg.Version)
	}
	return &cfg, nil
}

func writeConfig(root string, cfg *StorageConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding storage config: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(root, ConfigFile), data, 0644); err != nil {
		return fmt.Errorf("writing storage config: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place. The rename is the commit point: readers see either
// no file or the complete content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	committed = true
	return nil
}

const tempPrefix = ".tmp-"
