package record

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const ManifestFile = "run.yaml"

// Manifest describes one run and is kept next to its record files.
type Manifest struct {
	RunID       string    `yaml:"run_id"`
	StartedAt   time.Time `yaml:"started_at"`
	EndedAt     time.Time `yaml:"ended_at,omitempty"`
	ConfigPath  string    `yaml:"config_path"`
	HostsFile   string    `yaml:"hosts_file"`
	Workers     int       `yaml:"workers"`
	Duration    string    `yaml:"duration"`
	Batches     int       `yaml:"batches"`
	Interrupted bool      `yaml:"interrupted"`
	LastError   string    `yaml:"last_error,omitempty"`
}

func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestFile)
}

func LoadManifest(dir string) (Manifest, error) {
	var m Manifest
	path := ManifestPath(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return m, nil
}

// CreateManifest writes the manifest of a new run and refuses to replace
// one that is already there.
func CreateManifest(dir string, m Manifest) error {
	path := ManifestPath(dir)
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("manifest %q already exists", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check manifest %q: %w", path, err)
	}
	return writeManifest(dir, m)
}

func UpdateManifest(dir string, m Manifest) error {
	return writeManifest(dir, m)
}

func writeManifest(dir string, m Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure record dir %q: %w", dir, err)
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := ManifestPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp manifest %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit manifest %q: %w", path, err)
	}
	return nil
}
