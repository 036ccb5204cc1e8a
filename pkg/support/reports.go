package support

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sapassist/pkg/logx"
	"sapassist/pkg/sapclient"
)

// Report types the generator understands.
const (
	ReportInvoice           = "invoice"
	ReportOrder             = "order"
	ReportCustomerStatement = "customer_statement"
	ReportBusinessPartner   = "business_partner"
)

// reportSources maps report types to the entity set and key field queried.
//
//nolint:gochecknoglobals // Static report catalog
var reportSources = map[string]struct {
	Entity   string
	KeyField string
}{
	ReportInvoice:           {Entity: "Invoices", KeyField: "DocNum"},
	ReportOrder:             {Entity: "Orders", KeyField: "DocNum"},
	ReportCustomerStatement: {Entity: "Invoices", KeyField: "CardCode"},
	ReportBusinessPartner:   {Entity: "BusinessPartners", KeyField: "CardCode"},
}

// IsValidReportType reports whether the generator knows the type.
func IsValidReportType(reportType string) bool {
	_, ok := reportSources[reportType]
	return ok
}

// DataSource is the slice of the Service Layer client reports need.
type DataSource interface {
	Get(ctx context.Context, url string) (*sapclient.Result, error)
}

// ReportGenerator renders plain-text document reports into a directory.
type ReportGenerator struct {
	dir    string
	source DataSource
	now    func() time.Time
	logger *logx.Logger
}

// NewReportGenerator creates a generator writing into dir.
func NewReportGenerator(dir string, source DataSource) (*ReportGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}
	return &ReportGenerator{
		dir:    dir,
		source: source,
		now:    time.Now,
		logger: logx.NewLogger("reports"),
	}, nil
}

// SetClock overrides the clock for tests.
func (g *ReportGenerator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate fetches the document data and writes a timestamped report file.
// key is the document number or card code depending on the report type.
func (g *ReportGenerator) Generate(ctx context.Context, reportType, key string) (string, error) {
	src, ok := reportSources[reportType]
	if !ok {
		valid := make([]string, 0, len(reportSources))
		for t := range reportSources {
			valid = append(valid, t)
		}
		sort.Strings(valid)
		return "", fmt.Errorf("unknown report type %q, valid types: %s", reportType, strings.Join(valid, ", "))
	}

	value := key
	if src.KeyField == "CardCode" {
		value = "'" + strings.ReplaceAll(key, "'", "''") + "'"
	}
	url := fmt.Sprintf("/%s?$filter=%s eq %s", src.Entity, src.KeyField, value)

	result, err := g.source.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch report data: %w", err)
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("no %s found for %s %s", src.Entity, src.KeyField, key)
	}

	content := g.render(reportType, key, result.Records)

	name := fmt.Sprintf("%s_%s_%s.txt", reportType, sanitize(key), g.now().Format("20060102_150405"))
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	g.logger.Info("report written: %s (%s)", path, humanSize(int64(len(content))))
	return path, nil
}

func (g *ReportGenerator) render(reportType, key string, records []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s report for %s\n", strings.ReplaceAll(reportType, "_", " "), key)
	fmt.Fprintf(&b, "Generated: %s\n", g.now().Format(time.RFC1123))
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n\n")

	for i, rec := range records {
		if len(records) > 1 {
			fmt.Fprintf(&b, "-- Entry %d --\n", i+1)
		}
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if strings.HasPrefix(k, "@") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%-24s %v\n", k+":", rec[k])
		}
		b.WriteString("\n")
	}

	if reportType == ReportCustomerStatement {
		total := 0.0
		for _, rec := range records {
			if v, ok := rec["DocTotal"].(float64); ok {
				total += v
			}
		}
		fmt.Fprintf(&b, "Total over %d documents: %.2f\n", len(records), total)
	}

	return b.String()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// humanSize formats a byte count for humans.
func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
