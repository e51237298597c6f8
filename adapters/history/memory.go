package history

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const defaultListLimit = 50

// MemoryRepository keeps workflow records in memory, dropping the oldest
// beyond maxRecords
type MemoryRepository struct {
	mu         sync.RWMutex
	records    map[string]*entities.WorkflowRecord
	order      []string
	maxRecords int
}

// Ensure MemoryRepository implements the HistoryRepository interface
var _ repositories.HistoryRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory history; maxRecords <= 0 means unbounded
func NewMemoryRepository(maxRecords int) *MemoryRepository {
	return &MemoryRepository{
		records:    make(map[string]*entities.WorkflowRecord),
		maxRecords: maxRecords,
	}
}

func (m *MemoryRepository) Save(ctx context.Context, record *entities.WorkflowRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyRecord(record)
	if _, exists := m.records[record.ID]; !exists {
		m.order = append(m.order, record.ID)
	}
	m.records[record.ID] = stored

	for m.maxRecords > 0 && len(m.order) > m.maxRecords {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*entities.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, repositories.ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// List returns the most recent records first
func (m *MemoryRepository) List(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	m.mu.RLock()
	records := make([]*entities.WorkflowRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, copyRecord(record))
	}
	m.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func copyRecord(record *entities.WorkflowRecord) *entities.WorkflowRecord {
	c := *record
	c.States = append([]entities.WorkflowState(nil), record.States...)
	c.Files = append([]string(nil), record.Files...)
	return &c
}
