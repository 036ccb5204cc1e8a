// Package format renders Service Layer results for the terminal: tables over
// priority columns, CSV, JSON, and count phrasing.
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"sapassist/pkg/sapclient"
)

// Style selects the output rendering.
type Style string

const (
	StyleTable Style = "table"
	StyleJSON  Style = "json"
	StyleCSV   Style = "csv"
)

// maxTableColumns bounds table width; extra fields are dropped.
const maxTableColumns = 6

// maxCellWidth truncates long cell values.
const maxCellWidth = 32

// ColumnSource supplies the preferred column order per entity. Satisfied by
// registry.Registry.
type ColumnSource interface {
	PriorityColumns(entity string) []string
}

// Formatter renders results.
type Formatter struct {
	columns ColumnSource
	style   Style
}

// NewFormatter creates a formatter. columns may be nil; columns are then
// taken from the first record in encounter order.
func NewFormatter(columns ColumnSource, style Style) *Formatter {
	if style == "" {
		style = StyleTable
	}
	return &Formatter{columns: columns, style: style}
}

// Format renders a result for the given entity.
func (f *Formatter) Format(entity string, result *sapclient.Result) (string, error) {
	if result.HasCount && len(result.Records) == 0 {
		return countPhrase(entity, result.Count), nil
	}
	if len(result.Records) == 0 {
		return fmt.Sprintf("No matching %s found.", displayName(entity)), nil
	}

	switch f.style {
	case StyleJSON:
		return f.renderJSON(result)
	case StyleCSV:
		return f.renderCSV(entity, result)
	default:
		return f.renderTable(entity, result)
	}
}

// countPhrase words a bare count result.
func countPhrase(entity string, count int) string {
	name := displayName(entity)
	if count == 0 {
		return fmt.Sprintf("There are no %s.", name)
	}
	if count == 1 {
		return fmt.Sprintf("There is 1 matching entry in %s.", name)
	}
	return fmt.Sprintf("There are %d matching entries in %s.", count, name)
}

// displayName lowercases the entity set for prose.
func displayName(entity string) string {
	if entity == "" {
		return "records"
	}
	return strings.ToLower(entity)
}

// selectColumns picks the columns to show: priority columns that actually
// occur in the data, topped up from the first record.
func (f *Formatter) selectColumns(entity string, records []map[string]any) []string {
	present := func(col string) bool {
		_, ok := records[0][col]
		return ok
	}

	var cols []string
	if f.columns != nil {
		for _, col := range f.columns.PriorityColumns(entity) {
			if present(col) && len(cols) < maxTableColumns {
				cols = append(cols, col)
			}
		}
	}
	if len(cols) < maxTableColumns {
		for col := range records[0] {
			if strings.HasPrefix(col, "@") {
				continue
			}
			if !contains(cols, col) {
				cols = append(cols, col)
				if len(cols) == maxTableColumns {
					break
				}
			}
		}
	}
	return cols
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// cell stringifies a value for table and CSV output.
func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%.2f", t)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func clip(s string) string {
	if len(s) <= maxCellWidth {
		return s
	}
	return s[:maxCellWidth-3] + "..."
}

func (f *Formatter) renderTable(entity string, result *sapclient.Result) (string, error) {
	cols := f.selectColumns(entity, result.Records)
	widths := make([]int, len(cols))
	for i, col := range cols {
		widths[i] = len(col)
	}

	rows := make([][]string, len(result.Records))
	for ri, rec := range result.Records {
		row := make([]string, len(cols))
		for ci, col := range cols {
			row[ci] = clip(cell(rec[col]))
			if len(row[ci]) > widths[ci] {
				widths[ci] = len(row[ci])
			}
		}
		rows[ri] = row
	}

	var b strings.Builder
	for i, col := range cols {
		fmt.Fprintf(&b, "%-*s", widths[i]+2, col)
	}
	b.WriteString("\n")
	for i := range cols {
		b.WriteString(strings.Repeat("-", widths[i]))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, val := range row {
			fmt.Fprintf(&b, "%-*s", widths[i]+2, val)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d %s", len(result.Records), displayName(entity))
	if result.HasCount && result.Count > len(result.Records) {
		fmt.Fprintf(&b, " shown of %d total", result.Count)
	}
	b.WriteString(".\n")
	return b.String(), nil
}

func (f *Formatter) renderCSV(entity string, result *sapclient.Result) (string, error) {
	cols := f.selectColumns(entity, result.Records)

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(cols); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, rec := range result.Records {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = cell(rec[col])
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("CSV rendering failed: %w", err)
	}
	return b.String(), nil
}

func (f *Formatter) renderJSON(result *sapclient.Result) (string, error) {
	out, err := json.MarshalIndent(result.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return string(out), nil
}
