package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultMaxRecords bounds the in-memory journal
const DefaultMaxRecords = 10000

// MemoryJournal keeps the most recent records in memory
type MemoryJournal struct {
	records    []Record
	nextID     int64
	maxRecords int
	mu         sync.RWMutex
}

// NewMemoryJournal creates a new in-memory journal. maxRecords <= 0 uses
// DefaultMaxRecords; the oldest records are dropped beyond it.
func NewMemoryJournal(maxRecords int) *MemoryJournal {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &MemoryJournal{
		records:    make([]Record, 0),
		maxRecords: maxRecords,
	}
}

// Record appends an evaluation
func (m *MemoryJournal) Record(ctx context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Set timestamp if not set
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	m.nextID++
	record.ID = m.nextID
	record.Inputs = cloneValues(record.Inputs)
	record.Outputs = cloneValues(record.Outputs)

	m.records = append(m.records, record)
	if over := len(m.records) - m.maxRecords; over > 0 {
		m.records = append(m.records[:0:0], m.records[over:]...)
	}
	return nil
}

// List retrieves records, newest first
func (m *MemoryJournal) List(ctx context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Record
	for _, record := range m.records {
		if matchesFilter(record, filter) {
			filtered = append(filtered, record)
		}
	}

	// Sort by timestamp descending, newest ID first on ties
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].Timestamp.Equal(filtered[j].Timestamp) {
			return filtered[i].Timestamp.After(filtered[j].Timestamp)
		}
		return filtered[i].ID > filtered[j].ID
	})

	// Apply pagination
	if filter.Limit > 0 {
		start := filter.Offset
		end := start + filter.Limit
		if end > len(filtered) {
			end = len(filtered)
		}
		if start < len(filtered) {
			filtered = filtered[start:end]
		} else {
			filtered = []Record{}
		}
	}

	return filtered, nil
}

// Summary aggregates the records matching filter
func (m *MemoryJournal) Summary(ctx context.Context, filter Filter) (Summary, error) {
	filter.Limit, filter.Offset = 0, 0
	records, err := m.List(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	return summarize(records), nil
}

// Report summarizes, optionally grouped
func (m *MemoryJournal) Report(ctx context.Context, filter Filter) (Report, error) {
	if filter.GroupBy != "" && !validGroupBy(filter.GroupBy) {
		return Report{}, fmt.Errorf("unsupported group_by: %s", filter.GroupBy)
	}

	filter.Limit, filter.Offset = 0, 0
	records, err := m.List(ctx, filter)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		From:    filter.From,
		To:      filter.To,
		GroupBy: filter.GroupBy,
		Summary: summarize(records),
	}
	if filter.GroupBy != "" {
		report.Groups = groupRecords(records, filter.GroupBy)
	}
	return report, nil
}

// Export renders matching records in the given format
func (m *MemoryJournal) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	records, err := m.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return export(records, format)
}

// matchesFilter checks if a record matches the filter
func matchesFilter(record Record, filter Filter) bool {
	// Time range filter
	if filter.From != nil && record.Timestamp.Before(*filter.From) {
		return false
	}
	if filter.To != nil && record.Timestamp.After(*filter.To) {
		return false
	}

	// String filters
	if filter.Caller != "" && record.Caller != filter.Caller {
		return false
	}
	if filter.Model != "" && record.Model != filter.Model {
		return false
	}
	if filter.Status != "" && record.Status != filter.Status {
		return false
	}

	return true
}

func cloneValues(values map[string]float64) map[string]float64 {
	if values == nil {
		return nil
	}
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Close closes the journal
func (m *MemoryJournal) Close() error {
	// Nothing to close for in-memory journal
	return nil
}
