// Package query defines the structured query model and the natural-language
// understanding layer that produces it.
package query

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTop limits result sets when the user gives no explicit count.
const DefaultTop = 50

// Valid OData comparison operators for filter conditions.
const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpGt         = "gt"
	OpGe         = "ge"
	OpLt         = "lt"
	OpLe         = "le"
	OpContains   = "contains"
	OpStartsWith = "startswith"
	OpEndsWith   = "endswith"
)

// FilterCondition is a single predicate over an entity field.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// StructuredQuery is the intermediate representation between natural
// language and an OData URL.
type StructuredQuery struct {
	EntityType   string            `json:"entity_type"`
	Filters      []FilterCondition `json:"filter_conditions,omitempty"`
	Fields       []string          `json:"fields,omitempty"`
	Top          int               `json:"top,omitempty"`
	Skip         int               `json:"skip,omitempty"`
	OrderBy      string            `json:"order_by,omitempty"`
	Expand       string            `json:"expand,omitempty"`
	CountOnly    bool              `json:"count_only,omitempty"`
	IncludeCount bool              `json:"include_count,omitempty"`
}

// DateRange is a resolved half-open day range [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// knownOperators is the set of operators the builder understands.
//
//nolint:gochecknoglobals // Static operator set
var knownOperators = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGe: true, OpLt: true, OpLe: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
}

// IsKnownOperator reports whether op is a supported filter operator.
func IsKnownOperator(op string) bool {
	return knownOperators[strings.ToLower(op)]
}

// Validate performs structural sanity checks on the query.
func (q *StructuredQuery) Validate() error {
	if q.EntityType == "" {
		return fmt.Errorf("entity_type must not be empty")
	}
	if q.Top < 0 {
		return fmt.Errorf("top must not be negative")
	}
	if q.Skip < 0 {
		return fmt.Errorf("skip must not be negative")
	}
	for i := range q.Filters {
		f := &q.Filters[i]
		if f.Field == "" {
			return fmt.Errorf("filter %d: field must not be empty", i)
		}
		if !IsKnownOperator(f.Operator) {
			return fmt.Errorf("filter %d: unknown operator %q", i, f.Operator)
		}
	}
	return nil
}

// Normalize applies defaults and canonical casing in place.
func (q *StructuredQuery) Normalize() {
	if q.Top == 0 && !q.CountOnly {
		q.Top = DefaultTop
	}
	for i := range q.Filters {
		q.Filters[i].Operator = strings.ToLower(q.Filters[i].Operator)
	}
}

// HasFilterOn reports whether the query already filters on the given field.
func (q *StructuredQuery) HasFilterOn(field string) bool {
	for i := range q.Filters {
		if strings.EqualFold(q.Filters[i].Field, field) {
			return true
		}
	}
	return false
}

// AddFilter appends a condition.
func (q *StructuredQuery) AddFilter(field, operator, value string) {
	q.Filters = append(q.Filters, FilterCondition{Field: field, Operator: operator, Value: value})
}
