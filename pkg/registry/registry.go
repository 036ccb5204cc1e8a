// Package registry maintains SAP B1 entity schemas, name and field mappings,
// and live metadata discovery with an on-disk cache.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"sapassist/pkg/logx"
	"sapassist/pkg/query"
	"sapassist/pkg/saperr"
)

// FieldType is an OData EDM primitive type name.
type FieldType string

const (
	TypeString   FieldType = "Edm.String"
	TypeInt32    FieldType = "Edm.Int32"
	TypeDouble   FieldType = "Edm.Double"
	TypeDateTime FieldType = "Edm.DateTimeOffset"
	TypeBoolean  FieldType = "Edm.Boolean"
)

// EntitySchema describes one Service Layer entity set.
type EntitySchema struct {
	Name           string
	Fields         map[string]FieldType
	PriorityFields []string // Preferred display columns, in order
	StatusField    string   // Field carrying the document status enum
	StatusPrefix   string   // Enum prefix: "bost_" for documents, "bopos" for production orders
	DateField      string   // Primary date field for time filters
	Discovered     bool     // True when learned from the live service
}

// Registry holds entity schemas plus the name/field/enum mappings used to
// repair model output.
type Registry struct {
	mu           sync.RWMutex
	schemas      map[string]*EntitySchema
	nameMap      map[string]string            // lowercase alias -> entity set name
	fieldAliases map[string]map[string]string // entity -> lowercase alias -> canonical field
	logger       *logx.Logger
}

// documentFields are the fields shared by all marketing documents.
func documentFields() map[string]FieldType {
	return map[string]FieldType{
		"DocEntry":       TypeInt32,
		"DocNum":         TypeInt32,
		"CardCode":       TypeString,
		"CardName":       TypeString,
		"DocDate":        TypeDateTime,
		"DocDueDate":     TypeDateTime,
		"DocTotal":       TypeDouble,
		"DocCurrency":    TypeString,
		"DocumentStatus": TypeString,
		"Comments":       TypeString,
	}
}

// NewRegistry creates a registry preloaded with the core entity schemas.
func NewRegistry() *Registry {
	r := &Registry{
		schemas:      make(map[string]*EntitySchema),
		nameMap:      make(map[string]string),
		fieldAliases: make(map[string]map[string]string),
		logger:       logx.NewLogger("registry"),
	}
	r.loadCoreSchemas()
	return r
}

func (r *Registry) loadCoreSchemas() {
	docPriority := []string{"DocNum", "CardName", "DocDate", "DocTotal", "DocumentStatus", "DocCurrency"}

	for _, name := range []string{
		"Orders", "Invoices", "Quotations", "DeliveryNotes",
		"CreditNotes", "PurchaseOrders", "PurchaseInvoices",
	} {
		r.schemas[name] = &EntitySchema{
			Name:           name,
			Fields:         documentFields(),
			PriorityFields: docPriority,
			StatusField:    "DocumentStatus",
			StatusPrefix:   "bost_",
			DateField:      "DocDate",
		}
	}

	r.schemas["BusinessPartners"] = &EntitySchema{
		Name: "BusinessPartners",
		Fields: map[string]FieldType{
			"CardCode":     TypeString,
			"CardName":     TypeString,
			"CardType":     TypeString,
			"Phone1":       TypeString,
			"EmailAddress": TypeString,
			"City":         TypeString,
			"Country":      TypeString,
			"CurrentAccountBalance": TypeDouble,
			"Valid":        TypeString,
		},
		PriorityFields: []string{"CardCode", "CardName", "CardType", "Phone1", "EmailAddress", "City"},
	}

	r.schemas["Items"] = &EntitySchema{
		Name: "Items",
		Fields: map[string]FieldType{
			"ItemCode":          TypeString,
			"ItemName":          TypeString,
			"QuantityOnStock":   TypeDouble,
			"ItemsGroupCode":    TypeInt32,
			"PurchaseUnitPrice": TypeDouble,
			"Valid":             TypeString,
		},
		PriorityFields: []string{"ItemCode", "ItemName", "QuantityOnStock", "PurchaseUnitPrice"},
	}

	r.schemas["ProductionOrders"] = &EntitySchema{
		Name: "ProductionOrders",
		Fields: map[string]FieldType{
			"AbsoluteEntry":    TypeInt32,
			"DocumentNumber":   TypeInt32,
			"ItemNo":           TypeString,
			"ProductionOrderStatus": TypeString,
			"PlannedQuantity":  TypeDouble,
			"CompletedQuantity": TypeDouble,
			"PostingDate":      TypeDateTime,
		},
		PriorityFields: []string{"DocumentNumber", "ItemNo", "ProductionOrderStatus", "PlannedQuantity", "CompletedQuantity", "PostingDate"},
		StatusField:    "ProductionOrderStatus",
		StatusPrefix:   "bopos",
		DateField:      "PostingDate",
	}

	// Natural-language aliases for entity sets.
	for alias, entity := range map[string]string{
		"order": "Orders", "orders": "Orders", "sales order": "Orders",
		"invoice": "Invoices", "invoices": "Invoices", "facture": "Invoices",
		"customer": "BusinessPartners", "customers": "BusinessPartners",
		"client": "BusinessPartners", "clients": "BusinessPartners",
		"supplier": "BusinessPartners", "vendor": "BusinessPartners",
		"partner": "BusinessPartners", "business partner": "BusinessPartners",
		"item": "Items", "items": "Items", "product": "Items",
		"products": "Items", "article": "Items", "stock": "Items",
		"quotation": "Quotations", "quotations": "Quotations", "quote": "Quotations",
		"delivery": "DeliveryNotes", "deliveries": "DeliveryNotes",
		"credit note": "CreditNotes", "credit notes": "CreditNotes",
		"purchase order": "PurchaseOrders", "purchase orders": "PurchaseOrders",
		"purchase invoice": "PurchaseInvoices",
		"production order": "ProductionOrders", "production orders": "ProductionOrders",
	} {
		r.nameMap[alias] = entity
	}

	// Field aliases the model tends to produce.
	shared := map[string]string{
		"docstatus":      "DocumentStatus",
		"status":         "DocumentStatus",
		"customername":   "CardName",
		"customer":       "CardName",
		"customer_name":  "CardName",
		"total":          "DocTotal",
		"amount":         "DocTotal",
		"date":           "DocDate",
		"documentdate":   "DocDate",
		"duedate":        "DocDueDate",
		"number":         "DocNum",
		"docnumber":      "DocNum",
		"document_number": "DocNum",
	}
	for name := range r.schemas {
		aliases := make(map[string]string)
		for k, v := range shared {
			if _, ok := r.schemas[name].Fields[v]; ok {
				aliases[k] = v
			}
		}
		r.fieldAliases[name] = aliases
	}
	r.fieldAliases["ProductionOrders"]["status"] = "ProductionOrderStatus"
	r.fieldAliases["ProductionOrders"]["number"] = "DocumentNumber"
	r.fieldAliases["BusinessPartners"]["name"] = "CardName"
	r.fieldAliases["BusinessPartners"]["email"] = "EmailAddress"
	r.fieldAliases["BusinessPartners"]["phone"] = "Phone1"
	r.fieldAliases["Items"]["name"] = "ItemName"
	r.fieldAliases["Items"]["code"] = "ItemCode"
	r.fieldAliases["Items"]["quantity"] = "QuantityOnStock"
}

// Lookup returns the schema for an entity set.
func (r *Registry) Lookup(entity string) (*EntitySchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.schemas[entity]; ok {
		return s, nil
	}
	// Case-insensitive second chance.
	for name, s := range r.schemas {
		if strings.EqualFold(name, entity) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", saperr.ErrEntityNotFound, entity)
}

// Entities returns all known entity set names, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveEntityName maps a natural-language noun onto an entity set name.
func (r *Registry) ResolveEntityName(word string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(strings.TrimSpace(word))
	if entity, ok := r.nameMap[lower]; ok {
		return entity, true
	}
	if _, ok := r.schemas[word]; ok {
		return word, true
	}
	return "", false
}

// SuggestEntityType scores entity candidates against the question text and
// returns the best match. Longer aliases outrank shorter ones so "purchase
// order" wins over "order".
func (r *Registry) SuggestEntityType(text string) (string, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(text)
	best := ""
	bestScore := 0.0

	for alias, entity := range r.nameMap {
		if !strings.Contains(lower, alias) {
			continue
		}
		score := float64(len(alias))
		if score > bestScore {
			best = entity
			bestScore = score
		}
	}

	if best == "" {
		return "", 0
	}
	// Normalize to a rough confidence.
	conf := 0.6 + bestScore/50
	if conf > 0.95 {
		conf = 0.95
	}
	return best, conf
}

// CanonicalField maps a (possibly aliased, possibly miscased) field name to
// the canonical schema field. Returns false when the field is unknown.
func (r *Registry) CanonicalField(entity, field string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[entity]
	if !ok {
		return "", false
	}
	if _, ok := schema.Fields[field]; ok {
		return field, true
	}

	lower := strings.ToLower(field)
	if aliases, ok := r.fieldAliases[entity]; ok {
		if canonical, ok := aliases[lower]; ok {
			return canonical, true
		}
	}
	for name := range schema.Fields {
		if strings.EqualFold(name, field) {
			return name, true
		}
	}
	return "", false
}

// FieldTypeOf returns the EDM type of a field, defaulting to Edm.String.
func (r *Registry) FieldTypeOf(entity, field string) FieldType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schema, ok := r.schemas[entity]; ok {
		if t, ok := schema.Fields[field]; ok {
			return t
		}
	}
	return TypeString
}

// StatusLiteral maps a plain status word onto the entity's enum literal
// (bost_Open, bost_Close, bost_Cancelled; boposReleased for production).
func (r *Registry) StatusLiteral(entity, value string) (string, bool) {
	r.mu.RLock()
	schema, ok := r.schemas[entity]
	r.mu.RUnlock()
	if !ok || schema.StatusPrefix == "" {
		return "", false
	}

	lower := strings.ToLower(strings.TrimSpace(value))
	if schema.StatusPrefix == "bopos" {
		switch lower {
		case "released", "open":
			return "boposReleased", true
		case "closed", "close":
			return "boposClosed", true
		case "cancelled", "canceled":
			return "boposCancelled", true
		case "planned":
			return "boposPlanned", true
		}
		return "", false
	}

	switch lower {
	case "open":
		return "bost_Open", true
	case "closed", "close":
		return "bost_Close", true
	case "cancelled", "canceled":
		return "bost_Cancelled", true
	case "paid":
		return "bost_Paid", true
	}
	// Already an enum literal.
	if strings.HasPrefix(value, "bost_") {
		return value, true
	}
	return "", false
}

// PriorityColumns returns the preferred display columns for an entity.
func (r *Registry) PriorityColumns(entity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schema, ok := r.schemas[entity]; ok {
		return append([]string{}, schema.PriorityFields...)
	}
	return nil
}

// ValidateAndFix repairs a structured query in place: entity aliases are
// resolved, field aliases canonicalized, status values mapped to enum
// literals, and unknown fields dropped from the select list.
func (r *Registry) ValidateAndFix(q *query.StructuredQuery) error {
	if entity, ok := r.ResolveEntityName(q.EntityType); ok {
		q.EntityType = entity
	} else if suggested, conf := r.SuggestEntityType(q.EntityType); conf > 0 {
		r.logger.Info("unknown entity %q, using suggestion %s", q.EntityType, suggested)
		q.EntityType = suggested
	} else {
		return fmt.Errorf("%w: %s", saperr.ErrEntityNotFound, q.EntityType)
	}

	schema, err := r.Lookup(q.EntityType)
	if err != nil {
		return err
	}

	kept := q.Filters[:0]
	for i := range q.Filters {
		f := q.Filters[i]
		canonical, ok := r.CanonicalField(q.EntityType, f.Field)
		if !ok {
			r.logger.Warn("dropping filter on unknown field %s.%s", q.EntityType, f.Field)
			continue
		}
		f.Field = canonical

		if schema.StatusField != "" && f.Field == schema.StatusField {
			if literal, ok := r.StatusLiteral(q.EntityType, f.Value); ok {
				f.Value = literal
			}
		}
		if !query.IsKnownOperator(f.Operator) {
			f.Operator = query.OpEq
		}
		kept = append(kept, f)
	}
	q.Filters = kept

	fields := q.Fields[:0]
	for _, field := range q.Fields {
		if canonical, ok := r.CanonicalField(q.EntityType, field); ok {
			fields = append(fields, canonical)
		}
	}
	q.Fields = fields

	return nil
}

// DateFieldOf returns the primary date field for time filters.
func (r *Registry) DateFieldOf(entity string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if schema, ok := r.schemas[entity]; ok && schema.DateField != "" {
		return schema.DateField
	}
	return "DocDate"
}
