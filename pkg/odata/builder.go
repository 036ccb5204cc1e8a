// Package odata builds, validates, and repairs SAP B1 Service Layer OData
// URLs. The Service Layer speaks OData v3 with several SAP-specific rules:
// datetime'...' literals, tYES/tNO booleans, and bost_* document status
// enums. Everything in this package exists to honor that dialect.
package odata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sapassist/pkg/query"
	"sapassist/pkg/registry"
	"sapassist/pkg/saperr"
)

// DateLiteral renders t in the Service Layer date-literal form.
func DateLiteral(t time.Time) string {
	return fmt.Sprintf("datetime'%s'", t.Format("2006-01-02T00:00:00"))
}

// EscapeString doubles apostrophes per OData string-literal rules.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Builder turns StructuredQuery values into Service Layer URLs.
type Builder struct {
	reg *registry.Registry
}

// NewBuilder creates a builder backed by the given registry.
func NewBuilder(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// formatValue renders a filter value per the field's EDM type.
func (b *Builder) formatValue(entity, field, value string) string {
	switch b.reg.FieldTypeOf(entity, field) {
	case registry.TypeInt32, registry.TypeDouble:
		// Numeric fields go unquoted. A non-numeric value falls back to a
		// quoted literal so the error surfaces server-side with context.
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return value
		}
		return "'" + EscapeString(value) + "'"
	case registry.TypeDateTime:
		if t, err := time.Parse("2006-01-02", value); err == nil {
			return DateLiteral(t)
		}
		if strings.HasPrefix(value, "datetime'") {
			return value
		}
		return "'" + EscapeString(value) + "'"
	case registry.TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "yes", "tyes", "1":
			return "tYES"
		default:
			return "tNO"
		}
	default:
		// Enum literals (bost_Open, boposReleased) stay bare.
		if strings.HasPrefix(value, "bost_") || strings.HasPrefix(value, "bopos") {
			return value
		}
		return "'" + EscapeString(value) + "'"
	}
}

// buildCondition renders a single predicate.
func (b *Builder) buildCondition(entity string, f *query.FilterCondition) (string, error) {
	op := strings.ToLower(f.Operator)
	value := b.formatValue(entity, f.Field, f.Value)

	switch op {
	case query.OpEq, query.OpNe, query.OpGt, query.OpGe, query.OpLt, query.OpLe:
		return fmt.Sprintf("%s %s %s", f.Field, op, value), nil
	case query.OpContains:
		return fmt.Sprintf("contains(%s, '%s')", f.Field, EscapeString(f.Value)), nil
	case query.OpStartsWith:
		return fmt.Sprintf("startswith(%s, '%s')", f.Field, EscapeString(f.Value)), nil
	case query.OpEndsWith:
		return fmt.Sprintf("endswith(%s, '%s')", f.Field, EscapeString(f.Value)), nil
	default:
		return "", fmt.Errorf("unknown operator %q", f.Operator)
	}
}

// Build renders the query as a relative Service Layer URL.
func (b *Builder) Build(q *query.StructuredQuery) (string, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return "", saperr.Wrap(saperr.CodeQueryConstruction, "construct", err)
	}
	if _, err := b.reg.Lookup(q.EntityType); err != nil {
		return "", saperr.Wrap(saperr.CodeQueryConstruction, "construct", err)
	}

	var conditions []string
	for i := range q.Filters {
		cond, err := b.buildCondition(q.EntityType, &q.Filters[i])
		if err != nil {
			return "", saperr.Wrap(saperr.CodeQueryConstruction, "construct", err)
		}
		conditions = append(conditions, cond)
	}
	filter := strings.Join(conditions, " and ")

	// Count-only queries use the raw /$count endpoint.
	if q.CountOnly {
		url := "/" + q.EntityType + "/$count"
		if filter != "" {
			url += "?$filter=" + filter
		}
		return url, nil
	}

	var params []string
	if filter != "" {
		params = append(params, "$filter="+filter)
	}
	if len(q.Fields) > 0 {
		params = append(params, "$select="+strings.Join(q.Fields, ","))
	}
	if q.OrderBy != "" {
		params = append(params, "$orderby="+q.OrderBy)
	}
	if q.Top > 0 {
		params = append(params, fmt.Sprintf("$top=%d", q.Top))
	}
	if q.Skip > 0 {
		params = append(params, fmt.Sprintf("$skip=%d", q.Skip))
	}
	if q.Expand != "" {
		params = append(params, "$expand="+q.Expand)
	}
	if q.IncludeCount {
		params = append(params, "$count=true")
	}

	url := "/" + q.EntityType
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}
	return url, nil
}

// BuildWithDateRange adds a date filter for the entity's primary date field
// before building.
func (b *Builder) BuildWithDateRange(q *query.StructuredQuery, start, end time.Time) (string, error) {
	field := b.reg.DateFieldOf(q.EntityType)
	if !q.HasFilterOn(field) {
		q.AddFilter(field, query.OpGe, start.Format("2006-01-02"))
		q.AddFilter(field, query.OpLt, end.Format("2006-01-02"))
	}
	return b.Build(q)
}
