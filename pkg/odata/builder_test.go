package odata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/query"
	"sapassist/pkg/registry"
)

func newTestBuilder() *Builder {
	return NewBuilder(registry.NewRegistry())
}

func TestDateLiteral(t *testing.T) {
	d := time.Date(2026, 8, 23, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "datetime'2026-08-23T00:00:00'", DateLiteral(d))
}

func TestEscapeString(t *testing.T) {
	assert.Equal(t, "O''Brien", EscapeString("O'Brien"))
	assert.Equal(t, "plain", EscapeString("plain"))
}

func TestBuildSimpleFilter(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "Orders",
		Filters: []query.FilterCondition{
			{Field: "DocumentStatus", Operator: "eq", Value: "bost_Open"},
		},
		Top: 10,
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Equal(t, "/Orders?$filter=DocumentStatus eq bost_Open&$top=10", url)
}

func TestBuildNumericValueUnquoted(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "Orders",
		Filters: []query.FilterCondition{
			{Field: "DocNum", Operator: "eq", Value: "10001"},
		},
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Contains(t, url, "DocNum eq 10001")
	assert.NotContains(t, url, "'10001'")
}

func TestBuildDateValueWrapped(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "Invoices",
		Filters: []query.FilterCondition{
			{Field: "DocDate", Operator: "ge", Value: "2026-01-01"},
		},
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Contains(t, url, "DocDate ge datetime'2026-01-01T00:00:00'")
}

func TestBuildContainsFunction(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "BusinessPartners",
		Filters: []query.FilterCondition{
			{Field: "CardName", Operator: "contains", Value: "Maxi"},
		},
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Contains(t, url, "contains(CardName, 'Maxi')")
}

func TestBuildEscapesApostrophes(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "BusinessPartners",
		Filters: []query.FilterCondition{
			{Field: "CardName", Operator: "eq", Value: "O'Brien"},
		},
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Contains(t, url, "CardName eq 'O''Brien'")
}

func TestBuildCountOnly(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "Orders",
		CountOnly:  true,
		Filters: []query.FilterCondition{
			{Field: "DocumentStatus", Operator: "eq", Value: "bost_Open"},
		},
	}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Equal(t, "/Orders/$count?$filter=DocumentStatus eq bost_Open", url)
}

func TestBuildIncludeCount(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{EntityType: "Orders", IncludeCount: true, Top: 5}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Contains(t, url, "$count=true")
	assert.Contains(t, url, "$top=5")
}

func TestBuildDefaultsTop(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{EntityType: "Orders"}

	url, err := b.Build(q)
	require.NoError(t, err)
	assert.Equal(t, "/Orders?$top=50", url)
}

func TestBuildUnknownEntity(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{EntityType: "Nonsense"}

	_, err := b.Build(q)
	assert.Error(t, err)
}

func TestBuildWithDateRange(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{EntityType: "Orders", Top: 10}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	url, err := b.BuildWithDateRange(q, start, end)
	require.NoError(t, err)
	assert.Contains(t, url, "DocDate ge datetime'2026-08-01T00:00:00'")
	assert.Contains(t, url, "DocDate lt datetime'2026-09-01T00:00:00'")
}

func TestBuildWithDateRangeRespectsExistingFilter(t *testing.T) {
	b := newTestBuilder()
	q := &query.StructuredQuery{
		EntityType: "Orders",
		Filters: []query.FilterCondition{
			{Field: "DocDate", Operator: "ge", Value: "2026-01-01"},
		},
	}

	url, err := b.BuildWithDateRange(q,
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotContains(t, url, "2026-08-01")
}
