package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/hybridscan/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the same collections as FileStore in one SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/hybridscan/data.db.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "hybridscan", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feature_records (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id         TEXT NOT NULL UNIQUE,
			symbol            TEXT NOT NULL,
			entry_price       REAL NOT NULL,
			target_price      REAL NOT NULL,
			stop_loss         REAL NOT NULL,
			confidence_score  REAL NOT NULL,
			strategy          TEXT,
			created_at        INTEGER NOT NULL,
			rsi               REAL NOT NULL,
			macd_diff         REAL NOT NULL,
			sma_ratio         REAL NOT NULL,
			volume_ratio      REAL NOT NULL,
			volatility        REAL NOT NULL,
			momentum          REAL NOT NULL,
			sentiment_score   REAL NOT NULL,
			hour_of_day       INTEGER NOT NULL,
			day_of_week       INTEGER NOT NULL,
			result            TEXT NOT NULL DEFAULT 'pending',
			result_updated_at INTEGER,
			days_to_result    INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS monitored_signals (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id         TEXT NOT NULL UNIQUE,
			symbol            TEXT NOT NULL,
			entry_price       REAL NOT NULL,
			target_price      REAL NOT NULL,
			stop_loss         REAL NOT NULL,
			created_at        INTEGER NOT NULL,
			status            TEXT NOT NULL,
			result            TEXT,
			completion_date   INTEGER,
			days_to_result    INTEGER,
			max_price_reached REAL,
			min_price_reached REAL
		)`,
		`CREATE TABLE IF NOT EXISTS model_blobs (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON monitored_signals(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const recordCols = `signal_id, symbol, entry_price, target_price, stop_loss, confidence_score,
	strategy, created_at, rsi, macd_diff, sma_ratio, volume_ratio, volatility, momentum,
	sentiment_score, hour_of_day, day_of_week, result, result_updated_at, days_to_result`

func (s *SQLiteStore) LoadRecords() ([]models.FeatureRecord, error) {
	rows, err := s.db.Query(`SELECT ` + recordCols + ` FROM feature_records ORDER BY seq`)
	if err != nil {
		return nil, persistErr("query", s.path, err)
	}
	defer rows.Close()

	records := []models.FeatureRecord{}
	for rows.Next() {
		var r models.FeatureRecord
		var strategy, result sql.NullString
		var createdAt int64
		var updatedAt, days sql.NullInt64
		err := rows.Scan(
			&r.SignalID, &r.Symbol, &r.EntryPrice, &r.TargetPrice, &r.StopLoss, &r.ConfidenceScore,
			&strategy, &createdAt, &r.RSI, &r.MACDDiff, &r.SMARatio, &r.VolumeRatio,
			&r.Volatility, &r.Momentum, &r.SentimentScore, &r.HourOfDay, &r.DayOfWeek,
			&result, &updatedAt, &days,
		)
		if err != nil {
			return nil, persistErr("scan", s.path, err)
		}
		r.Strategy = strategy.String
		r.CreatedAt = time.Unix(0, createdAt)
		r.Result = models.Label(result.String)
		r.ResultUpdatedAt = timePtr(updatedAt)
		r.DaysToResult = intPtr(days)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("scan", s.path, err)
	}
	return records, nil
}

// SaveRecords replaces the corpus in a single transaction.
func (s *SQLiteStore) SaveRecords(records []models.FeatureRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("begin", s.path, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM feature_records`); err != nil {
		return persistErr("delete", s.path, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO feature_records (` + recordCols + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return persistErr("prepare", s.path, err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.Exec(
			r.SignalID, r.Symbol, r.EntryPrice, r.TargetPrice, r.StopLoss, r.ConfidenceScore,
			r.Strategy, r.CreatedAt.UnixNano(), r.RSI, r.MACDDiff, r.SMARatio, r.VolumeRatio,
			r.Volatility, r.Momentum, r.SentimentScore, r.HourOfDay, r.DayOfWeek,
			string(r.Label()), nullTime(r.ResultUpdatedAt), nullInt(r.DaysToResult),
		)
		if err != nil {
			return persistErr("insert", s.path, fmt.Errorf("record %s: %w", r.SignalID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", s.path, err)
	}
	return nil
}

const signalCols = `signal_id, symbol, entry_price, target_price, stop_loss, created_at, status,
	result, completion_date, days_to_result, max_price_reached, min_price_reached`

func (s *SQLiteStore) LoadSignals() ([]models.MonitoredSignal, error) {
	rows, err := s.db.Query(`SELECT ` + signalCols + ` FROM monitored_signals ORDER BY seq`)
	if err != nil {
		return nil, persistErr("query", s.path, err)
	}
	defer rows.Close()

	signals := []models.MonitoredSignal{}
	for rows.Next() {
		var m models.MonitoredSignal
		var createdAt int64
		var status string
		var result sql.NullString
		var completed, days sql.NullInt64
		var maxPrice, minPrice sql.NullFloat64
		err := rows.Scan(
			&m.SignalID, &m.Symbol, &m.EntryPrice, &m.TargetPrice, &m.StopLoss, &createdAt,
			&status, &result, &completed, &days, &maxPrice, &minPrice,
		)
		if err != nil {
			return nil, persistErr("scan", s.path, err)
		}
		m.CreatedAt = time.Unix(0, createdAt)
		m.Status = models.Status(status)
		if result.Valid {
			l := models.Label(result.String)
			m.Result = &l
		}
		m.CompletionDate = timePtr(completed)
		m.DaysToResult = intPtr(days)
		m.MaxPriceReached = floatPtr(maxPrice)
		m.MinPriceReached = floatPtr(minPrice)
		signals = append(signals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("scan", s.path, err)
	}
	return signals, nil
}

// SaveSignals replaces the monitoring list in a single transaction.
func (s *SQLiteStore) SaveSignals(signals []models.MonitoredSignal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("begin", s.path, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM monitored_signals`); err != nil {
		return persistErr("delete", s.path, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO monitored_signals (` + signalCols + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return persistErr("prepare", s.path, err)
	}
	defer stmt.Close()

	for _, m := range signals {
		var result sql.NullString
		if m.Result != nil {
			result = sql.NullString{String: string(*m.Result), Valid: true}
		}
		_, err := stmt.Exec(
			m.SignalID, m.Symbol, m.EntryPrice, m.TargetPrice, m.StopLoss, m.CreatedAt.UnixNano(),
			string(m.Status), result, nullTime(m.CompletionDate), nullInt(m.DaysToResult),
			nullFloat(m.MaxPriceReached), nullFloat(m.MinPriceReached),
		)
		if err != nil {
			return persistErr("insert", s.path, fmt.Errorf("signal %s: %w", m.SignalID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) LoadBlob(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM model_blobs WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("query", s.path, err)
	}
	return data, nil
}

func (s *SQLiteStore) SaveBlob(name string, data []byte) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO model_blobs (name, data, updated_at) VALUES (?,?,?)`,
		name, data, time.Now().UnixNano())
	if err != nil {
		return persistErr("write", s.path, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
