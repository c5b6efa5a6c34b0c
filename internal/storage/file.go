package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rewired-gh/hybridscan/internal/models"
)

const (
	recordsFile = "training_data.json"
	signalsFile = "monitoring.json"
)

// FileStore keeps each collection in its own JSON file. Writes go to a
// temporary file that is renamed over the target, so a crash leaves either the
// old or the new content.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "hybridscan")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) LoadRecords() ([]models.FeatureRecord, error) {
	var records []models.FeatureRecord
	if err := s.readJSON(recordsFile, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.FeatureRecord{}
	}
	return records, nil
}

func (s *FileStore) SaveRecords(records []models.FeatureRecord) error {
	return s.writeJSON(recordsFile, records)
}

func (s *FileStore) LoadSignals() ([]models.MonitoredSignal, error) {
	var signals []models.MonitoredSignal
	if err := s.readJSON(signalsFile, &signals); err != nil {
		return nil, err
	}
	if signals == nil {
		signals = []models.MonitoredSignal{}
	}
	return signals, nil
}

func (s *FileStore) SaveSignals(signals []models.MonitoredSignal) error {
	return s.writeJSON(signalsFile, signals)
}

func (s *FileStore) LoadBlob(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.blobPath(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("read", path, err)
	}
	return data, nil
}

func (s *FileStore) SaveBlob(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.blobPath(name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return persistErr("write", path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) blobPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// readJSON decodes file into v. A missing file leaves v untouched.
func (s *FileStore) readJSON(file string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, file)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return persistErr("read", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return persistErr("decode", path, err)
	}
	return nil
}

func (s *FileStore) writeJSON(file string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, file)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return persistErr("encode", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return persistErr("write", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to path through a temporary file and rename.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return persistErr("mkdir", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return persistErr("write", path, err)
	}
	return nil
}
