package tracker

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists evaluation records in a SQLite database
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore returns a new SQLiteStore using the database file at
// path. The database is opened by Init.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// SaveRecord appends a record to the records of a run
func (s *SQLiteStore) SaveRecord(ctx context.Context, runID string,
	record Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var idx int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx) + 1, 0) FROM records WHERE run_id = ?
	`, runID).Scan(&idx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (run_id, idx, total_step, r_avg, r_std, obj_a, obj_c)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			total_step = excluded.total_step,
			r_avg = excluded.r_avg,
			r_std = excluded.r_std,
			obj_a = excluded.obj_a,
			obj_c = excluded.obj_c
	`, runID, idx, record.TotalStep, record.RAvg, record.RStd, record.ObjA,
		record.ObjC)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Records returns the records of a run in the order they were saved
func (s *SQLiteStore) Records(ctx context.Context, runID string) ([]Record,
	bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT total_step, r_avg, r_std, obj_a, obj_c
		FROM records WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var step int
		var rAvg, rStd, objA, objC sql.NullFloat64
		if err := rows.Scan(&step, &rAvg, &rStd, &objA, &objC); err != nil {
			return nil, false, err
		}
		records = append(records, Record{
			TotalStep: step,
			RAvg:      nullToNaN(rAvg),
			RStd:      nullToNaN(rStd),
			ObjA:      nullToNaN(objA),
			ObjC:      nullToNaN(objC),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return records, len(records) > 0, nil
}

// nullToNaN returns the value of f, or NaN if f is NULL. SQLite stores
// NaN as NULL.
func nullToNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			total_step INTEGER NOT NULL,
			r_avg REAL,
			r_std REAL,
			obj_a REAL,
			obj_c REAL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	return err
}
