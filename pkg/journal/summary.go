package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// summarize aggregates records in memory
func summarize(records []Record) Summary {
	summary := Summary{
		TotalRecords: int64(len(records)),
		ByStatus:     make(map[string]int64),
	}

	var duration float64
	sums := make(map[string]float64)
	for _, record := range records {
		summary.ByStatus[record.Status]++
		if record.Cached {
			summary.CacheHits++
		}
		duration += record.DurationMS

		for name, value := range record.Outputs {
			if summary.Outputs == nil {
				summary.Outputs = make(map[string]OutputSummary)
			}
			out, seen := summary.Outputs[name]
			if !seen || value < out.Min {
				out.Min = value
			}
			if !seen || value > out.Max {
				out.Max = value
			}
			out.Count++
			sums[name] += value
			summary.Outputs[name] = out
		}
	}

	if len(records) > 0 {
		summary.MeanDurationMS = duration / float64(len(records))
	}
	for name, out := range summary.Outputs {
		out.Mean = sums[name] / float64(out.Count)
		summary.Outputs[name] = out
	}
	return summary
}

// groupKey returns the value of the grouping field
func groupKey(record Record, groupBy string) string {
	switch groupBy {
	case "caller":
		return record.Caller
	case "model":
		return record.Model
	case "status":
		return record.Status
	default:
		return "unknown"
	}
}

// groupRecords groups records by the specified field, largest group first
func groupRecords(records []Record, groupBy string) []Group {
	groups := make(map[string][]Record)
	for _, record := range records {
		key := groupKey(record, groupBy)
		groups[key] = append(groups[key], record)
	}

	result := make([]Group, 0, len(groups))
	for key, members := range groups {
		result = append(result, Group{
			GroupBy:    groupBy,
			GroupValue: key,
			Summary:    summarize(members),
		})
	}

	sortGroups(result)
	return result
}

// sortGroups orders groups largest first, then by value
func sortGroups(groups []Group) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Summary.TotalRecords != groups[j].Summary.TotalRecords {
			return groups[i].Summary.TotalRecords > groups[j].Summary.TotalRecords
		}
		return groups[i].GroupValue < groups[j].GroupValue
	})
}

// export renders records in the given format
func export(records []Record, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		if records == nil {
			records = []Record{}
		}
		return json.MarshalIndent(records, "", "  ")
	case ExportFormatCSV:
		return exportCSV(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// formatValues renders a value map as name=value pairs in name order
func formatValues(values map[string]float64) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.FormatFloat(values[name], 'g', -1, 64)
	}
	return strings.Join(parts, ";")
}

// exportCSV exports records as CSV
func exportCSV(records []Record) ([]byte, error) {
	var buf strings.Builder
	writer := csv.NewWriter(&buf)

	// Write header
	header := []string{
		"ID", "Timestamp", "Caller", "Model", "Status",
		"Inputs", "Outputs", "No Rule Fired", "Error",
		"Duration ms", "Cached", "Request ID",
	}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	// Write records
	for _, record := range records {
		row := []string{
			strconv.FormatInt(record.ID, 10),
			record.Timestamp.Format(time.RFC3339Nano),
			record.Caller,
			record.Model,
			record.Status,
			formatValues(record.Inputs),
			formatValues(record.Outputs),
			strings.Join(record.NoRuleFired, ";"),
			record.Error,
			fmt.Sprintf("%.3f", record.DurationMS),
			strconv.FormatBool(record.Cached),
			record.RequestID,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
