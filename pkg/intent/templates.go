package intent

import (
	"fmt"
	"strings"
)

// Template turns a recognized intent directly into a Service Layer URL,
// bypassing full understanding for the common cases.
type Template struct {
	Intent   string
	Pattern  string   // URL with {Entity} and {Param} placeholders
	Required []string // Parameters that must be present
	Optional map[string]string
}

//nolint:gochecknoglobals // Static template catalog
var templates = map[string]Template{
	FindSpecific: {
		Intent:   FindSpecific,
		Pattern:  "/{Entity}?$filter={NumField} eq {DocNum}",
		Required: []string{"DocNum"},
	},
	ListOpen: {
		Intent:   ListOpen,
		Pattern:  "/{Entity}?$filter={StatusField} eq {OpenLiteral}&$orderby=DocDate desc&$top={Top}",
		Optional: map[string]string{"Top": "50"},
	},
	ListRecent: {
		Intent:   ListRecent,
		Pattern:  "/{Entity}?$orderby=DocDate desc&$top={Top}",
		Optional: map[string]string{"Top": "10"},
	},
	Count: {
		Intent:  Count,
		Pattern: "/{Entity}/$count",
	},
	FindByCustomer: {
		Intent:   FindByCustomer,
		Pattern:  "/{Entity}?$filter=contains(CardName,'{CardName}')&$orderby=DocDate desc&$top={Top}",
		Required: []string{"CardName"},
		Optional: map[string]string{"Top": "50"},
	},
}

// parameterPairs lets one extracted value satisfy its counterpart: a numeric
// CardCode fills in for CardName, a DocNum for DocEntry, and so on.
//
//nolint:gochecknoglobals // Static inference table
var parameterPairs = map[string]string{
	"CardName": "CardCode",
	"CardCode": "CardName",
	"DocNum":   "DocEntry",
	"DocEntry": "DocNum",
	"ItemName": "ItemCode",
	"ItemCode": "ItemName",
}

// SchemaSource answers the entity-dependent placeholders.
type SchemaSource interface {
	StatusLiteral(entity, value string) (string, bool)
}

// Expand renders the template for the result. The missing slice names
// required parameters the caller must obtain before retrying.
func Expand(res *Result, schemas SchemaSource) (url string, missing []string, ok bool) {
	tpl, found := templates[res.Name]
	if !found || res.Entity == "" {
		return "", nil, false
	}

	params := inferParameters(res.Parameters)
	for _, req := range tpl.Required {
		if params[req] == "" {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return "", missing, false
	}

	url = strings.ReplaceAll(tpl.Pattern, "{Entity}", res.Entity)
	url = strings.ReplaceAll(url, "{NumField}", "DocNum")
	url = strings.ReplaceAll(url, "{StatusField}", "DocumentStatus")

	if strings.Contains(url, "{OpenLiteral}") {
		literal := "bost_Open"
		if schemas != nil {
			if lit, ok := schemas.StatusLiteral(res.Entity, "open"); ok {
				literal = lit
			}
		}
		url = strings.ReplaceAll(url, "{OpenLiteral}", literal)
	}

	for key, def := range tpl.Optional {
		val := params[key]
		if val == "" {
			val = def
		}
		url = strings.ReplaceAll(url, "{"+key+"}", val)
	}
	for key, val := range params {
		url = strings.ReplaceAll(url, "{"+key+"}", val)
	}

	// A count intent with a status filter becomes a filtered /$count.
	if res.Name == Count && params["Status"] != "" {
		literal := "bost_Open"
		if schemas != nil {
			if lit, ok := schemas.StatusLiteral(res.Entity, params["Status"]); ok {
				literal = lit
			}
		}
		url += fmt.Sprintf("?$filter=DocumentStatus eq %s", literal)
	}

	if strings.Contains(url, "{") {
		return "", nil, false
	}
	return url, nil, true
}

// inferParameters fills paired parameters from their counterparts.
func inferParameters(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	for from, to := range parameterPairs {
		if out[to] == "" && out[from] != "" {
			out[to] = out[from]
		}
	}
	return out
}
