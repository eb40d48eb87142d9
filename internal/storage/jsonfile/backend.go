package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/pkg/logger"
)

const (
	scansFile    = "scans.json"
	settingsFile = "settings.json"
)

// Backend persists the scan history and settings as two JSON files in a
// directory. Writes go through a temp file and a rename, so a crash
// mid-write never corrupts the previous snapshot.
type Backend struct {
	dir    string
	logger *logger.Logger
}

// New creates a JSON file backend rooted at dir, creating the directory as
// needed.
func New(dir string, log *logger.Logger) (*Backend, error) {
	if dir == "" {
		return nil, errors.New("jsonfile storage requires a directory path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Backend{
		dir:    dir,
		logger: log.Named("jsonfile"),
	}, nil
}

// SaveScans writes the full scan snapshot.
func (b *Backend) SaveScans(records []*scan.ScanRecord) error {
	if records == nil {
		records = []*scan.ScanRecord{}
	}
	return b.writeFile(scansFile, records)
}

// LoadScans returns the persisted history in stored order. A missing file
// means an empty history.
func (b *Backend) LoadScans() ([]*scan.ScanRecord, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, scansFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read scan snapshot: %w", err)
	}

	var records []*scan.ScanRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode scan snapshot: %w", err)
	}
	return records, nil
}

// SaveSettings writes the settings file.
func (b *Backend) SaveSettings(s settings.Settings) error {
	return b.writeFile(settingsFile, s)
}

// LoadSettings returns the persisted settings, with false when nothing has
// been persisted yet.
func (b *Backend) LoadSettings() (settings.Settings, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, settingsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings.Settings{}, false, nil
		}
		return settings.Settings{}, false, fmt.Errorf("failed to read settings: %w", err)
	}

	var s settings.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return settings.Settings{}, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, true, nil
}

// Close is a no-op for file storage.
func (b *Backend) Close() error {
	return nil
}

// writeFile marshals v and swaps it into place atomically.
func (b *Backend) writeFile(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(b.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
