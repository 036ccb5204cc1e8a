package executor

import "sapassist/pkg/knowledge"

// seedRule is a correction shipped with the binary rather than learned at
// runtime. ErrorPattern is matched as a substring of the Service Layer error.
type seedRule struct {
	ErrorPattern string
	RewriteFrom  string
	RewriteTo    string
}

//nolint:gochecknoglobals // Static seed catalog
var staticRules = []seedRule{
	{
		ErrorPattern: "Property 'DocStatus' of 'Document' is invalid",
		RewriteFrom:  "DocStatus",
		RewriteTo:    "DocumentStatus",
	},
	{
		ErrorPattern: "Property 'Status' of 'Document' is invalid",
		RewriteFrom:  "Status",
		RewriteTo:    "DocumentStatus",
	},
	{
		ErrorPattern: "Property 'CustomerName' of 'Document' is invalid",
		RewriteFrom:  "CustomerName",
		RewriteTo:    "CardName",
	},
	{
		ErrorPattern: "Property 'CustomerCode' of 'Document' is invalid",
		RewriteFrom:  "CustomerCode",
		RewriteTo:    "CardCode",
	},
	{
		ErrorPattern: "Property 'Date' of 'Document' is invalid",
		RewriteFrom:  "Date",
		RewriteTo:    "DocDate",
	},
	{
		ErrorPattern: "Invalid value 'Open'",
		RewriteFrom:  "'Open'",
		RewriteTo:    "bost_Open",
	},
	{
		ErrorPattern: "Invalid value 'Closed'",
		RewriteFrom:  "'Closed'",
		RewriteTo:    "bost_Close",
	},
}

// SeedCorrectionRules installs the static rule catalog into the knowledge
// store. Existing rules are left untouched, so counters survive restarts.
func SeedCorrectionRules(ops *knowledge.StoreOperations) error {
	for _, r := range staticRules {
		if err := ops.SeedRule(r.ErrorPattern, r.RewriteFrom, r.RewriteTo); err != nil {
			return err
		}
	}
	return nil
}
