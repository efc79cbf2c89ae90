package journal

import (
	"context"
	"time"
)

// Evaluation statuses.
const (
	StatusOK           = "ok"
	StatusNoRuleFired  = "no_rule_fired"
	StatusInvalidInput = "invalid_input"
	StatusMissingInput = "missing_input"
	StatusError        = "error"
)

// Record is one journaled evaluation
type Record struct {
	ID          int64              `json:"id" db:"id"`
	Timestamp   time.Time          `json:"timestamp" db:"timestamp"`
	Caller      string             `json:"caller" db:"caller"`
	Model       string             `json:"model" db:"model"`
	Status      string             `json:"status" db:"status"`
	Inputs      map[string]float64 `json:"inputs" db:"inputs"`
	Outputs     map[string]float64 `json:"outputs,omitempty" db:"outputs"`
	NoRuleFired []string           `json:"no_rule_fired,omitempty" db:"no_rule_fired"`
	Error       string             `json:"error,omitempty" db:"error"`
	DurationMS  float64            `json:"duration_ms" db:"duration_ms"`
	Cached      bool               `json:"cached" db:"cached"`
	RequestID   string             `json:"request_id,omitempty" db:"request_id"`
}

// OutputSummary aggregates the crisp values of one consequent
type OutputSummary struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summary represents aggregated journal data
type Summary struct {
	TotalRecords   int64                    `json:"total_records"`
	ByStatus       map[string]int64         `json:"by_status"`
	CacheHits      int64                    `json:"cache_hits"`
	MeanDurationMS float64                  `json:"mean_duration_ms"`
	Outputs        map[string]OutputSummary `json:"outputs,omitempty"`
}

// Group represents journal data grouped by a field
type Group struct {
	GroupBy    string  `json:"group_by"`
	GroupValue string  `json:"group_value"`
	Summary    Summary `json:"summary"`
}

// Report represents a journal report with optional grouping
type Report struct {
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	GroupBy string     `json:"group_by,omitempty"` // caller, model, status
	Summary Summary    `json:"summary"`
	Groups  []Group    `json:"groups,omitempty"`
}

// Filter represents filters for journal queries
type Filter struct {
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Caller  string     `json:"caller,omitempty"`
	Model   string     `json:"model,omitempty"`
	Status  string     `json:"status,omitempty"`
	GroupBy string     `json:"group_by,omitempty"`
	Limit   int        `json:"limit,omitempty"`
	Offset  int        `json:"offset,omitempty"`
}

// ExportFormat represents supported export formats
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// Journal stores evaluation history
type Journal interface {
	// Record appends an evaluation
	Record(ctx context.Context, record Record) error

	// List retrieves records, newest first
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Summary aggregates the records matching filter
	Summary(ctx context.Context, filter Filter) (Summary, error)

	// Report summarizes, optionally grouped by caller, model or status
	Report(ctx context.Context, filter Filter) (Report, error)

	// Export renders matching records in the given format
	Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error)

	// Close releases the backend
	Close() error
}

// validGroupBy reports whether field can be grouped on
func validGroupBy(field string) bool {
	switch field {
	case "caller", "model", "status":
		return true
	default:
		return false
	}
}
