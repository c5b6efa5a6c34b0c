// Package storage persists the training corpus, the monitoring list and model
// blobs, either as atomically rewritten JSON files or in a SQLite database.
package storage

import (
	"fmt"

	"github.com/rewired-gh/hybridscan/internal/models"
)

// Backend is the durable store behind the corpus, the monitor and the
// adaptive model. Every Save call replaces the whole collection atomically.
type Backend interface {
	LoadRecords() ([]models.FeatureRecord, error)
	SaveRecords(records []models.FeatureRecord) error

	LoadSignals() ([]models.MonitoredSignal, error)
	SaveSignals(signals []models.MonitoredSignal) error

	// LoadBlob returns models.ErrNotFound when no blob with that name exists.
	LoadBlob(name string) ([]byte, error)
	SaveBlob(name string, data []byte) error

	Close() error
}

// Open returns the backend selected by driver: "file" stores JSON files under
// dataDir, "sqlite" opens the database at dbPath.
func Open(driver, dataDir, dbPath string) (Backend, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dataDir)
	case "sqlite":
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func persistErr(op, path string, err error) error {
	return &models.PersistenceError{Op: op, Path: path, Err: err}
}
