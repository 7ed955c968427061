package tracker

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps evaluation records in memory. Its contents can be
// written to disk with Export.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string][]Record
}

// NewMemoryStore returns a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.records = make(map[string][]Record)
	return nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, runID string,
	record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.records[runID] = append(s.records[runID], record)
	return nil
}

func (s *MemoryStore) Records(_ context.Context, runID string) ([]Record,
	bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.records[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]Record(nil), records...), true, nil
}

// Export gob encodes the records of a run to the file filename, see
// LoadRecords
func (s *MemoryStore) Export(runID, filename string) error {
	records, _, err := s.Records(context.Background(), runID)
	if err != nil {
		return err
	}
	return SaveRecords(filename, records)
}
