// Package tracker implements the recording of experiment data: Trackers
// follow the TimeSteps of episodes and Stores persist the evaluation
// records of training runs
package tracker

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/samuelfneumann/drlcore/timestep"
)

// Interface Tracker keeps track of data from the TimeSteps of episodes
type Tracker interface {
	Track(t ts.TimeStep)
	Reset()
}

// Record is a single evaluation of a policy during training
type Record struct {
	TotalStep int     // Environment steps taken before the evaluation
	RAvg      float64 // Average evaluation return
	RStd      float64 // Population standard deviation of returns
	ObjA      float64 // Actor objective of the last update phase
	ObjC      float64 // Critic objective of the last update phase
}

// Store persists the evaluation records of training runs, keyed by a
// run identifier. Records of a run are kept in the order they were
// saved.
type Store interface {
	Init(ctx context.Context) error
	SaveRecord(ctx context.Context, runID string, record Record) error
	Records(ctx context.Context, runID string) ([]Record, bool, error)
}

// NewStore returns a new, uninitialized Store. The kind is either
// "memory" or "sqlite", in which case sqlitePath names the database
// file.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath), nil
	default:
		return nil, fmt.Errorf("newstore: unsupported store backend %q",
			kind)
	}
}

// CloseIfSupported closes the store if it holds resources
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// SaveRecords gob encodes records to the file filename
func SaveRecords(filename string, records []Record) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("saverecords: could not create file: %v", err)
	}

	if err := gob.NewEncoder(file).Encode(records); err != nil {
		file.Close()
		return fmt.Errorf("saverecords: could not encode records: %v", err)
	}
	return file.Close()
}

// LoadRecords loads and returns the records saved by SaveRecords
func LoadRecords(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadrecords: could not open file: %v", err)
	}
	defer file.Close()

	var records []Record
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("loadrecords: could not decode records: %v",
			err)
	}
	return records, nil
}
