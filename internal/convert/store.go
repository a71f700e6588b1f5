package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Store lays out per-conversion state on disk:
//
//	<root>/conversions/<id>/config.json
//	<root>/conversions/<id>/conversion.log
//	<root>/conversions/<id>/report.html
//	<root>/uploads/<id>/<original file name>
type Store struct {
	root string
}

// NewStore creates the layout under root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, "conversions"), filepath.Join(root, "uploads")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Dir returns the conversion's directory, creating it if needed.
func (s *Store) Dir(id string) (string, error) {
	dir := filepath.Join(s.root, "conversions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create conversion directory: %w", err)
	}
	return dir, nil
}

// SaveConfig serializes the frozen config as config.json.
func (s *Store) SaveConfig(cfg *Config) error {
	dir, err := s.Dir(cfg.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config.json: %w", err)
	}
	return nil
}

// LoadConfig reads a previously saved config.json.
func (s *Store) LoadConfig(id string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "conversions", id, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read config for %s: %w", id, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config for %s: %w", id, err)
	}
	return &cfg, nil
}

// SaveSnapshot persists the terminal result so later invocations can
// answer status queries.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	dir, err := s.Dir(snap.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write result.json: %w", err)
	}
	return nil
}

// LoadSnapshot reads a persisted terminal result.
func (s *Store) LoadSnapshot(id string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "conversions", id, "result.json"))
	if err != nil {
		return Snapshot{}, fmt.Errorf("no persisted result for %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse result for %s: %w", id, err)
	}
	return snap, nil
}

// OpenLog opens the append-only conversion log.
func (s *Store) OpenLog(id string) (*os.File, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "conversion.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversion log: %w", err)
	}
	return f, nil
}

// ReportPath is where the audit report for a conversion lives.
func (s *Store) ReportPath(id string) string {
	return filepath.Join(s.root, "conversions", id, "report.html")
}

// StashSource copies the uploaded source file under the conversion's
// upload directory and returns the stored path.
func (s *Store) StashSource(id, path string) (string, error) {
	dir := filepath.Join(s.root, "uploads", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	stored := filepath.Join(dir, filepath.Base(path))
	dst, err := os.Create(stored)
	if err != nil {
		return "", fmt.Errorf("failed to create stored copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy source file: %w", err)
	}
	return stored, nil
}

// List returns known conversion ids, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "conversions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
