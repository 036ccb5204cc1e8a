package sapclient

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"sapassist/pkg/saperr"
)

//nolint:gochecknoglobals // Static pattern compiled once
var reDemoNumEq = regexp.MustCompile(`\b(DocNum|DocEntry|DocumentNumber|AbsoluteEntry)\s+eq\s+(\d+)`)

// Demo mode serves a small canned dataset so the whole pipeline can run
// without a live Service Layer. Responses still flow through the normal
// Result shape, and known SAP error messages are simulated for bad URLs so
// the correction loop stays exercised.

func demoEntitySets() []string {
	return []string{"Orders", "Invoices", "BusinessPartners", "Items", "Quotations", "ProductionOrders"}
}

//nolint:gochecknoglobals // Static demo dataset
var demoData = map[string][]map[string]any{
	"Orders": {
		{"DocEntry": 1, "DocNum": 10001, "CardCode": "C20000", "CardName": "Maxi-Teq", "DocDate": "2026-08-03", "DocTotal": 1540.50, "DocumentStatus": "bost_Open", "DocCurrency": "EUR"},
		{"DocEntry": 2, "DocNum": 10002, "CardCode": "C30000", "CardName": "Microchips", "DocDate": "2026-08-10", "DocTotal": 890.00, "DocumentStatus": "bost_Open", "DocCurrency": "EUR"},
		{"DocEntry": 3, "DocNum": 10003, "CardCode": "C20000", "CardName": "Maxi-Teq", "DocDate": "2026-07-21", "DocTotal": 12400.00, "DocumentStatus": "bost_Close", "DocCurrency": "EUR"},
		{"DocEntry": 4, "DocNum": 10004, "CardCode": "C40000", "CardName": "Earthshaker", "DocDate": "2026-08-15", "DocTotal": 311.75, "DocumentStatus": "bost_Open", "DocCurrency": "USD"},
	},
	"Invoices": {
		{"DocEntry": 11, "DocNum": 20001, "CardCode": "C20000", "CardName": "Maxi-Teq", "DocDate": "2026-08-05", "DocTotal": 1540.50, "DocumentStatus": "bost_Open", "DocCurrency": "EUR"},
		{"DocEntry": 12, "DocNum": 20002, "CardCode": "C30000", "CardName": "Microchips", "DocDate": "2026-07-28", "DocTotal": 4300.00, "DocumentStatus": "bost_Close", "DocCurrency": "EUR"},
	},
	"BusinessPartners": {
		{"CardCode": "C20000", "CardName": "Maxi-Teq", "CardType": "cCustomer", "Phone1": "+33 1 40 20 30 40", "EmailAddress": "contact@maxiteq.example", "City": "Paris"},
		{"CardCode": "C30000", "CardName": "Microchips", "CardType": "cCustomer", "Phone1": "+33 4 50 60 70 80", "EmailAddress": "hello@microchips.example", "City": "Lyon"},
		{"CardCode": "V10000", "CardName": "Acme Components", "CardType": "cSupplier", "Phone1": "+49 30 11 22 33", "EmailAddress": "sales@acme.example", "City": "Berlin"},
	},
	"Items": {
		{"ItemCode": "A00001", "ItemName": "IBM Infoprint 1312", "QuantityOnStock": 120.0, "PurchaseUnitPrice": 300.0},
		{"ItemCode": "A00002", "ItemName": "IBM Infoprint 1222", "QuantityOnStock": 45.0, "PurchaseUnitPrice": 500.0},
	},
	"Quotations": {
		{"DocEntry": 21, "DocNum": 30001, "CardCode": "C20000", "CardName": "Maxi-Teq", "DocDate": "2026-08-18", "DocTotal": 275.00, "DocumentStatus": "bost_Open", "DocCurrency": "EUR"},
	},
	"ProductionOrders": {
		{"AbsoluteEntry": 31, "DocumentNumber": 40001, "ItemNo": "A00001", "ProductionOrderStatus": "boposReleased", "PlannedQuantity": 50.0, "CompletedQuantity": 20.0, "PostingDate": "2026-08-01"},
	},
}

// demoGet answers a relative URL from the canned dataset.
func (c *Client) demoGet(relURL string) (*Result, error) {
	// Reproduce the best-known Service Layer complaint so the correction
	// loop can be demonstrated end to end.
	if strings.Contains(relURL, "DocStatus") {
		return nil, saperr.New(saperr.CodeQueryExecution, "execute",
			"Property 'DocStatus' of 'Document' is invalid").
			WithDetail("status", 400).WithDetail("url", relURL)
	}

	path := relURL
	query := ""
	if idx := strings.Index(relURL, "?"); idx >= 0 {
		path = relURL[:idx]
		query = relURL[idx+1:]
	}

	countOnly := strings.HasSuffix(path, "/$count")
	entity := strings.Trim(strings.TrimSuffix(path, "/$count"), "/")

	records, ok := demoData[entity]
	if !ok {
		return nil, saperr.New(saperr.CodeQueryExecution, "execute",
			"Resource not found for the segment '"+entity+"'").
			WithDetail("status", 404).WithDetail("url", relURL)
	}

	filtered := applyDemoFilter(records, query)

	if countOnly {
		return &Result{Count: len(filtered), HasCount: true}, nil
	}

	if top := extractTop(query); top > 0 && top < len(filtered) {
		filtered = filtered[:top]
	}

	result := &Result{Records: filtered}
	if strings.Contains(query, "$count=true") {
		result.Count = len(filtered)
		result.HasCount = true
	}
	return result, nil
}

//nolint:gochecknoglobals // Demo draft counter
var demoDraftEntry atomic.Int64

// demoPost pretends to create the entity, echoing the payload back with a
// generated DocEntry.
func (c *Client) demoPost(relURL string, payload any) (*Result, error) {
	entity := strings.Trim(relURL, "/")
	if entity != "Drafts" && demoData[entity] == nil {
		return nil, saperr.New(saperr.CodeQueryExecution, "execute",
			"Resource not found for the segment '"+entity+"'").
			WithDetail("status", 404).WithDetail("url", relURL)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	record["DocEntry"] = int(1000 + demoDraftEntry.Add(1))

	return &Result{Records: []map[string]any{record}, Raw: data}, nil
}

// applyDemoFilter honors the two filter shapes demos use most: document
// status equality and CardName contains/eq.
func applyDemoFilter(records []map[string]any, query string) []map[string]any {
	if !strings.Contains(query, "$filter=") {
		return records
	}

	var out []map[string]any
	for _, record := range records {
		keep := true

		if strings.Contains(query, "DocumentStatus eq bost_Open") && record["DocumentStatus"] != "bost_Open" {
			keep = false
		}
		if strings.Contains(query, "DocumentStatus eq bost_Close") && record["DocumentStatus"] != "bost_Close" {
			keep = false
		}

		for _, prefix := range []string{"contains(CardName,'", "contains(CardName, '"} {
			idx := strings.Index(query, prefix)
			if idx < 0 {
				continue
			}
			rest := query[idx+len(prefix):]
			if end := strings.Index(rest, "'"); end >= 0 {
				needle := rest[:end]
				name, _ := record["CardName"].(string)
				if !strings.Contains(strings.ToLower(name), strings.ToLower(needle)) {
					keep = false
				}
			}
		}

		if m := reDemoNumEq.FindStringSubmatch(query); m != nil {
			want, _ := strconv.Atoi(m[2])
			if have, ok := record[m[1]].(int); !ok || have != want {
				keep = false
			}
		}

		if keep {
			out = append(out, record)
		}
	}
	return out
}

func extractTop(query string) int {
	idx := strings.Index(query, "$top=")
	if idx < 0 {
		return 0
	}
	rest := query[idx+len("$top="):]
	if end := strings.IndexAny(rest, "&"); end >= 0 {
		rest = rest[:end]
	}
	top, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return top
}
