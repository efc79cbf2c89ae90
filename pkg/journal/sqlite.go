package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal persists evaluations to a SQLite database
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database at dbPath
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent evaluations
	db.SetMaxOpenConns(1)

	journal := &SQLiteJournal{db: db}

	// Create table if not exists
	if err := journal.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return journal, nil
}

// createTable creates the evaluations table
func (s *SQLiteJournal) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		caller TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT NOT NULL,
		no_rule_fired TEXT NOT NULL,
		error TEXT NOT NULL,
		duration_ms REAL NOT NULL,
		cached INTEGER NOT NULL,
		request_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_evaluations_caller ON evaluations(caller);
	CREATE INDEX IF NOT EXISTS idx_evaluations_model ON evaluations(model);
	CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// Record appends an evaluation
func (s *SQLiteJournal) Record(ctx context.Context, record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	inputs, err := json.Marshal(nonNilValues(record.Inputs))
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := json.Marshal(nonNilValues(record.Outputs))
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	noRuleFired := record.NoRuleFired
	if noRuleFired == nil {
		noRuleFired = []string{}
	}
	unfired, err := json.Marshal(noRuleFired)
	if err != nil {
		return fmt.Errorf("encode no_rule_fired: %w", err)
	}

	query := `
	INSERT INTO evaluations (
		timestamp, caller, model, status, inputs, outputs,
		no_rule_fired, error, duration_ms, cached, request_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.Timestamp.UTC(),
		record.Caller,
		record.Model,
		record.Status,
		string(inputs),
		string(outputs),
		string(unfired),
		record.Error,
		record.DurationMS,
		record.Cached,
		record.RequestID,
	)

	return err
}

// List retrieves records, newest first
func (s *SQLiteJournal) List(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := s.buildQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record                   Record
			inputs, outputs, unfired string
			requestID                sql.NullString
		)
		err := rows.Scan(
			&record.ID,
			&record.Timestamp,
			&record.Caller,
			&record.Model,
			&record.Status,
			&inputs,
			&outputs,
			&unfired,
			&record.Error,
			&record.DurationMS,
			&record.Cached,
			&requestID,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(inputs), &record.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of record %d: %w", record.ID, err)
		}
		if err := json.Unmarshal([]byte(outputs), &record.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs of record %d: %w", record.ID, err)
		}
		if err := json.Unmarshal([]byte(unfired), &record.NoRuleFired); err != nil {
			return nil, fmt.Errorf("decode no_rule_fired of record %d: %w", record.ID, err)
		}
		if len(record.Outputs) == 0 {
			record.Outputs = nil
		}
		if len(record.NoRuleFired) == 0 {
			record.NoRuleFired = nil
		}
		record.RequestID = requestID.String
		records = append(records, record)
	}

	return records, rows.Err()
}

// Summary aggregates the records matching filter
func (s *SQLiteJournal) Summary(ctx context.Context, filter Filter) (Summary, error) {
	whereClause, args := s.buildWhereClause(filter, "")

	query := fmt.Sprintf(`
		SELECT
			status,
			COUNT(*) as total_records,
			COALESCE(SUM(cached), 0) as cache_hits,
			COALESCE(SUM(duration_ms), 0) as total_duration_ms
		FROM evaluations
		%s
		GROUP BY status
	`, whereClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	summary := Summary{ByStatus: make(map[string]int64)}
	var duration float64
	for rows.Next() {
		var (
			status    string
			count     int64
			cacheHits int64
			total     float64
		)
		if err := rows.Scan(&status, &count, &cacheHits, &total); err != nil {
			return Summary{}, err
		}
		summary.ByStatus[status] = count
		summary.TotalRecords += count
		summary.CacheHits += cacheHits
		duration += total
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	if summary.TotalRecords > 0 {
		summary.MeanDurationMS = duration / float64(summary.TotalRecords)
	}

	outputs, err := s.outputSummaries(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	summary.Outputs = outputs
	return summary, nil
}

// outputSummaries aggregates crisp outputs per consequent with json_each
func (s *SQLiteJournal) outputSummaries(ctx context.Context, filter Filter) (map[string]OutputSummary, error) {
	whereClause, args := s.buildWhereClause(filter, "e.")

	query := fmt.Sprintf(`
		SELECT
			o.key,
			COUNT(*),
			AVG(o.value),
			MIN(o.value),
			MAX(o.value)
		FROM evaluations e, json_each(e.outputs) o
		%s
		GROUP BY o.key
	`, whereClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs map[string]OutputSummary
	for rows.Next() {
		var (
			name string
			out  OutputSummary
		)
		if err := rows.Scan(&name, &out.Count, &out.Mean, &out.Min, &out.Max); err != nil {
			return nil, err
		}
		if outputs == nil {
			outputs = make(map[string]OutputSummary)
		}
		outputs[name] = out
	}
	return outputs, rows.Err()
}

// Report summarizes, optionally grouped
func (s *SQLiteJournal) Report(ctx context.Context, filter Filter) (Report, error) {
	if filter.GroupBy != "" && !validGroupBy(filter.GroupBy) {
		return Report{}, fmt.Errorf("unsupported group_by: %s", filter.GroupBy)
	}

	summary, err := s.Summary(ctx, filter)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		From:    filter.From,
		To:      filter.To,
		GroupBy: filter.GroupBy,
		Summary: summary,
	}

	// Group records if GroupBy is specified
	if filter.GroupBy != "" {
		groups, err := s.groupedSummaries(ctx, filter)
		if err != nil {
			return Report{}, err
		}
		report.Groups = groups
	}

	return report, nil
}

// groupedSummaries summarizes each distinct value of filter.GroupBy
func (s *SQLiteJournal) groupedSummaries(ctx context.Context, filter Filter) ([]Group, error) {
	whereClause, args := s.buildWhereClause(filter, "")

	// GroupBy is validated against a fixed column list before reaching here
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM evaluations %s`, filter.GroupBy, whereClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			rows.Close()
			return nil, err
		}
		values = append(values, value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(values))
	for _, value := range values {
		narrowed := filter
		switch filter.GroupBy {
		case "caller":
			narrowed.Caller = value
		case "model":
			narrowed.Model = value
		case "status":
			narrowed.Status = value
		}

		summary, err := s.Summary(ctx, narrowed)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{
			GroupBy:    filter.GroupBy,
			GroupValue: value,
			Summary:    summary,
		})
	}

	sortGroups(groups)
	return groups, nil
}

// Export renders matching records in the given format
func (s *SQLiteJournal) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	records, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return export(records, format)
}

// buildQuery builds a SQL query with filters
func (s *SQLiteJournal) buildQuery(filter Filter) (string, []interface{}) {
	whereClause, args := s.buildWhereClause(filter, "")

	query := fmt.Sprintf(`
		SELECT
			id, timestamp, caller, model, status, inputs, outputs,
			no_rule_fired, error, duration_ms, cached, request_id
		FROM evaluations
		%s
		ORDER BY timestamp DESC, id DESC
	`, whereClause)

	// Add pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	return query, args
}

// buildWhereClause builds WHERE clause with filters. prefix qualifies the
// column names when the query joins other tables.
func (s *SQLiteJournal) buildWhereClause(filter Filter, prefix string) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.From != nil {
		conditions = append(conditions, prefix+"timestamp >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		conditions = append(conditions, prefix+"timestamp <= ?")
		args = append(args, filter.To.UTC())
	}
	if filter.Caller != "" {
		conditions = append(conditions, prefix+"caller = ?")
		args = append(args, filter.Caller)
	}
	if filter.Model != "" {
		conditions = append(conditions, prefix+"model = ?")
		args = append(args, filter.Model)
	}
	if filter.Status != "" {
		conditions = append(conditions, prefix+"status = ?")
		args = append(args, filter.Status)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args
}

func nonNilValues(values map[string]float64) map[string]float64 {
	if values == nil {
		return map[string]float64{}
	}
	return values
}

// Close closes the journal
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
