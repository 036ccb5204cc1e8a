package format

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/sapclient"
)

type stubColumns struct {
	cols []string
}

func (s *stubColumns) PriorityColumns(string) []string { return s.cols }

func orderRecords() []map[string]any {
	return []map[string]any{
		{"DocNum": float64(10001), "CardName": "Maxi-Teq", "DocTotal": 1540.5, "DocumentStatus": "bost_Open", "Internal": "hidden"},
		{"DocNum": float64(10002), "CardName": "A customer with a very long name indeed Ltd", "DocTotal": 890.0, "DocumentStatus": "bost_Open", "Internal": "hidden"},
	}
}

func TestFormatTable(t *testing.T) {
	f := NewFormatter(&stubColumns{cols: []string{"DocNum", "CardName", "DocTotal", "DocumentStatus"}}, StyleTable)

	out, err := f.Format("Orders", &sapclient.Result{Records: orderRecords()})
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[0], "DocNum")
	assert.Contains(t, lines[0], "CardName")
	assert.Contains(t, out, "10001")
	assert.Contains(t, out, "Maxi-Teq")
	assert.Contains(t, out, "1540.50")
	assert.Contains(t, out, "2 orders.")

	// Long cells are clipped.
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "indeed Ltd")
}

func TestFormatTableShownOfTotal(t *testing.T) {
	f := NewFormatter(&stubColumns{cols: []string{"DocNum"}}, StyleTable)

	result := &sapclient.Result{Records: orderRecords(), Count: 40, HasCount: true}
	out, err := f.Format("Orders", result)
	require.NoError(t, err)
	assert.Contains(t, out, "2 orders shown of 40 total.")
}

func TestFormatCountOnly(t *testing.T) {
	f := NewFormatter(nil, StyleTable)

	tests := []struct {
		count int
		want  string
	}{
		{0, "There are no orders."},
		{1, "There is 1 matching entry in orders."},
		{7, "There are 7 matching entries in orders."},
	}
	for _, tt := range tests {
		out, err := f.Format("Orders", &sapclient.Result{Count: tt.count, HasCount: true})
		require.NoError(t, err)
		assert.Equal(t, tt.want, out)
	}
}

func TestFormatEmptyResult(t *testing.T) {
	f := NewFormatter(nil, StyleTable)
	out, err := f.Format("Invoices", &sapclient.Result{})
	require.NoError(t, err)
	assert.Equal(t, "No matching invoices found.", out)
}

func TestFormatCSV(t *testing.T) {
	f := NewFormatter(&stubColumns{cols: []string{"DocNum", "CardName"}}, StyleCSV)

	out, err := f.Format("Orders", &sapclient.Result{Records: orderRecords()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "DocNum,CardName", lines[0])
	assert.Contains(t, lines[1], "10001,Maxi-Teq")
}

func TestFormatJSON(t *testing.T) {
	f := NewFormatter(nil, StyleJSON)

	out, err := f.Format("Orders", &sapclient.Result{Records: orderRecords()})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded, 2)
}

func TestCell(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, ""},
		{"text", "text"},
		{float64(42), "42"},
		{42.5, "42.50"},
		{true, "yes"},
		{false, "no"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cell(tt.value))
	}
}

func TestSelectColumnsCapsWidth(t *testing.T) {
	f := NewFormatter(nil, StyleTable)
	record := map[string]any{}
	for _, col := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "@odata.etag"} {
		record[col] = "x"
	}

	cols := f.selectColumns("Orders", []map[string]any{record})
	assert.Len(t, cols, maxTableColumns)
	assert.NotContains(t, cols, "@odata.etag")
}
