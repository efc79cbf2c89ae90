package journal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Journal drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Config holds journal configuration
type Config struct {
	Driver     string
	Path       string
	MaxRecords int
}

// Open creates the journal selected by config.Driver. An empty driver
// selects the in-memory journal.
func Open(config Config) (Journal, error) {
	switch config.Driver {
	case "", DriverMemory:
		return NewMemoryJournal(config.MaxRecords), nil
	case DriverSQLite:
		if config.Path == "" {
			return nil, fmt.Errorf("sqlite journal requires a path")
		}
		j, err := NewSQLiteJournal(config.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite journal: %w", err)
		}
		return j, nil
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", config.Driver)
	}
}

// Nop discards every record
type Nop struct{}

func (Nop) Record(context.Context, Record) error           { return nil }
func (Nop) List(context.Context, Filter) ([]Record, error) { return []Record{}, nil }
func (Nop) Summary(context.Context, Filter) (Summary, error) {
	return Summary{ByStatus: map[string]int64{}}, nil
}
func (Nop) Report(_ context.Context, filter Filter) (Report, error) {
	return Report{From: filter.From, To: filter.To, GroupBy: filter.GroupBy, Summary: Summary{ByStatus: map[string]int64{}}}, nil
}
func (Nop) Export(_ context.Context, _ Filter, format ExportFormat) ([]byte, error) {
	return export(nil, format)
}
func (Nop) Close() error { return nil }

// ParseFilter reads a Filter from URL query parameters: from, to (RFC3339),
// caller, model, status, group_by, limit and offset.
func ParseFilter(values url.Values) (Filter, error) {
	filter := Filter{
		Caller:  values.Get("caller"),
		Model:   values.Get("model"),
		Status:  values.Get("status"),
		GroupBy: values.Get("group_by"),
	}

	if raw := values.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = &from
	}
	if raw := values.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid to: %w", err)
		}
		filter.To = &to
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return Filter{}, fmt.Errorf("invalid limit: %q", raw)
		}
		filter.Limit = limit
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return Filter{}, fmt.Errorf("invalid offset: %q", raw)
		}
		filter.Offset = offset
	}

	if filter.GroupBy != "" && !validGroupBy(filter.GroupBy) {
		return Filter{}, fmt.Errorf("unsupported group_by: %s", filter.GroupBy)
	}

	return filter, nil
}

// Values encodes filter as URL query parameters understood by ParseFilter
func (f Filter) Values() url.Values {
	values := url.Values{}
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	if f.From != nil {
		values.Set("from", f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		values.Set("to", f.To.Format(time.RFC3339))
	}
	set("caller", f.Caller)
	set("model", f.Model)
	set("status", f.Status)
	set("group_by", f.GroupBy)
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	return values
}

// Recent returns the newest limit records for caller (all callers when empty)
func Recent(ctx context.Context, j Journal, caller string, limit int) ([]Record, error) {
	return j.List(ctx, Filter{Caller: caller, Limit: limit})
}
