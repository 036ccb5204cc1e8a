package support

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/sapclient"
)

type stubSource struct {
	records []map[string]any
	lastURL string
	err     error
}

func (s *stubSource) Get(_ context.Context, url string) (*sapclient.Result, error) {
	s.lastURL = url
	if s.err != nil {
		return nil, s.err
	}
	return &sapclient.Result{Records: s.records}, nil
}

func TestIsValidReportType(t *testing.T) {
	assert.True(t, IsValidReportType(ReportInvoice))
	assert.True(t, IsValidReportType(ReportCustomerStatement))
	assert.False(t, IsValidReportType("payslip"))
}

func TestGenerateOrderReport(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{records: []map[string]any{
		{"DocNum": float64(10001), "CardName": "Maxi-Teq", "DocTotal": 1540.5, "@odata.etag": "x"},
	}}
	g, err := NewReportGenerator(dir, source)
	require.NoError(t, err)
	g.SetClock(func() time.Time { return time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC) })

	path, err := g.Generate(context.Background(), ReportOrder, "10001")
	require.NoError(t, err)
	assert.Equal(t, "/Orders?$filter=DocNum eq 10001", source.lastURL)
	assert.Equal(t, filepath.Join(dir, "order_10001_20260823_090000.txt"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "order report for 10001")
	assert.Contains(t, string(content), "CardName:")
	assert.Contains(t, string(content), "Maxi-Teq")
	assert.NotContains(t, string(content), "@odata.etag")
}

func TestGenerateCustomerStatement(t *testing.T) {
	source := &stubSource{records: []map[string]any{
		{"DocNum": float64(20001), "DocTotal": 1540.5},
		{"DocNum": float64(20002), "DocTotal": 459.5},
	}}
	g, err := NewReportGenerator(t.TempDir(), source)
	require.NoError(t, err)

	path, err := g.Generate(context.Background(), ReportCustomerStatement, "C20000")
	require.NoError(t, err)
	assert.Equal(t, "/Invoices?$filter=CardCode eq 'C20000'", source.lastURL)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "-- Entry 2 --")
	assert.Contains(t, string(content), "Total over 2 documents: 2000.00")
}

func TestGenerateUnknownType(t *testing.T) {
	g, err := NewReportGenerator(t.TempDir(), &stubSource{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "payslip", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid types")
}

func TestGenerateNoData(t *testing.T) {
	g, err := NewReportGenerator(t.TempDir(), &stubSource{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), ReportOrder, "99999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Orders found")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "C20000", sanitize("C20000"))
	assert.Equal(t, "a_b_c-d", sanitize("a b/c-d"))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "2.0 KB", humanSize(2048))
	assert.Equal(t, "1.5 MB", humanSize(3<<19))
}
