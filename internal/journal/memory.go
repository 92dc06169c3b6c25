package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MemoryRepository keeps the journal in process memory. It is used when no
// database is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*Run
	txs   map[uuid.UUID][]Transaction
	units map[uuid.UUID][]Unit
}

// NewMemoryRepository creates an empty in-memory journal.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:  make(map[uuid.UUID]*Run),
		txs:   make(map[uuid.UUID][]Transaction),
		units: make(map[uuid.UUID][]Unit),
	}
}

func (m *MemoryRepository) CreateRun(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	stored := *r
	m.runs[r.ID] = &stored
	return nil
}

func (m *MemoryRepository) FinishRun(_ context.Context, id uuid.UUID, status Status, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	now := time.Now().UTC()
	r.Status = status
	r.Error = errMsg
	r.FinishedAt = &now
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := *r
	return &out, nil
}

// ListRuns returns the most recent runs first.
func (m *MemoryRepository) ListRuns(_ context.Context, limit int) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		out := *r
		runs = append(runs, &out)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryRepository) RecordTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[tx.RunID]; !ok {
		return ErrRunNotFound
	}
	if tx.ID == (ulid.ULID{}) {
		tx.ID = ulid.Make()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	m.txs[tx.RunID] = append(m.txs[tx.RunID], *tx)
	return nil
}

func (m *MemoryRepository) ListTransactions(_ context.Context, runID uuid.UUID) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transaction(nil), m.txs[runID]...), nil
}

func (m *MemoryRepository) RecordUnit(_ context.Context, u *Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[u.RunID]; !ok {
		return ErrRunNotFound
	}
	if u.ID == (ulid.ULID{}) {
		u.ID = ulid.Make()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.units[u.RunID] = append(m.units[u.RunID], *u)
	return nil
}

func (m *MemoryRepository) ListUnits(_ context.Context, runID uuid.UUID) ([]Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Unit(nil), m.units[runID]...), nil
}

func (m *MemoryRepository) Close() {}
