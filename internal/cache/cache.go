package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const DefaultFileName = "accessories.json"

// Entry is one persisted accessory.
type Entry struct {
	UUID        string    `json:"uuid"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Added       time.Time `json:"added"`
	LastSeen    time.Time `json:"last_seen"`
}

type Data struct {
	Accessories []Entry   `json:"accessories"`
	LastUpdate  time.Time `json:"last_update"`
}

// Store reads and writes the accessory cache file.
type Store struct {
	path string
}

// New returns a store for path. A relative path is resolved inside the
// user's cache directory.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultFileName
	}
	if !filepath.IsAbs(path) {
		dir, err := getCacheDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, path)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Save(data Data) error {
	data.LastUpdate = time.Now()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	return nil
}

// Load returns nil without error when no cache has been written yet.
func (s *Store) Load() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &data, nil
}

func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

func getCacheDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".cache", "elkm1bridge"), nil
}
