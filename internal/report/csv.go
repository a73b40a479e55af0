package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Columns always present in an export, in order
var fixedColumns = []string{
	"job_name",
	"status",
	"job_start_time",
	"job_duration",
	"failed_cmd",
	"cmds",
	"cwd",
	"console_log",
}

// Columns returns the CSV header for rows: the fixed columns, then every
// env/ column, then every result/ column, each group sorted
func Columns(rows []map[string]any) []string {
	var envs, results []string
	seen := map[string]struct{}{}

	for _, row := range rows {
		for key := range row {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			switch {
			case strings.HasPrefix(key, EnvPrefix):
				envs = append(envs, key)
			case strings.HasPrefix(key, ResultPrefix):
				results = append(results, key)
			}
		}
	}
	slices.Sort(envs)
	slices.Sort(results)

	columns := slices.Clone(fixedColumns)
	columns = append(columns, envs...)
	return append(columns, results...)
}

// WriteCSV writes rows produced by TableAll. Cells missing from a row are empty.
func WriteCSV(w io.Writer, rows []map[string]any) error {
	columns := Columns(rows)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = cell(row[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, "\n")
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
