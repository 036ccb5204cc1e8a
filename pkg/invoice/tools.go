package invoice

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sapassist/pkg/odata"
	"sapassist/pkg/sapclient"
)

// SAPClient is the slice of the Service Layer client the agent needs.
type SAPClient interface {
	Get(ctx context.Context, url string) (*sapclient.Result, error)
	Post(ctx context.Context, url string, payload any) (*sapclient.Result, error)
}

// Order number extraction. Messages reference orders in several shapes:
// "order 10001", "PO #10001", "commande n° 10001", "votre commande 10001".
//
//nolint:gochecknoglobals // Static patterns compiled once
var orderNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:order|purchase order|po|commande)\s*(?:n[o°]?\.?\s*)?#?\s*(\d{3,10})\b`),
	regexp.MustCompile(`(?i)\bref(?:erence)?\s*:?\s*#?(\d{3,10})\b`),
}

// ExtractOrderNumbers pulls candidate order numbers from a message body.
func ExtractOrderNumbers(text string) []string {
	seen := map[string]bool{}
	var numbers []string
	for _, re := range orderNumberPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				numbers = append(numbers, m[1])
			}
		}
	}
	return numbers
}

// senderAddress strips the display name from a From header.
func senderAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return from[start+1 : start+end]
		}
	}
	return strings.TrimSpace(from)
}

// FindPartner locates the business partner behind a message, by sender email
// first and the sender's display name second.
func FindPartner(ctx context.Context, sap SAPClient, from string) (map[string]any, error) {
	addr := senderAddress(from)
	if addr != "" {
		url := fmt.Sprintf("/BusinessPartners?$filter=EmailAddress eq '%s'", odata.EscapeString(addr))
		result, err := sap.Get(ctx, url)
		if err == nil && len(result.Records) > 0 {
			return result.Records[0], nil
		}
	}

	name := from
	if idx := strings.Index(from, "<"); idx > 0 {
		name = strings.Trim(strings.TrimSpace(from[:idx]), `"`)
	}
	if name != "" && name != addr {
		url := fmt.Sprintf("/BusinessPartners?$filter=contains(CardName,'%s')", odata.EscapeString(name))
		result, err := sap.Get(ctx, url)
		if err == nil && len(result.Records) > 0 {
			return result.Records[0], nil
		}
	}

	return nil, fmt.Errorf("no business partner matches sender %q", from)
}

// FindOpenOrder locates an open sales order by document number, optionally
// constrained to the partner's card code.
func FindOpenOrder(ctx context.Context, sap SAPClient, docNum, cardCode string) (map[string]any, error) {
	filter := fmt.Sprintf("DocNum eq %s and DocumentStatus eq bost_Open", docNum)
	if cardCode != "" {
		filter += fmt.Sprintf(" and CardCode eq '%s'", odata.EscapeString(cardCode))
	}

	result, err := sap.Get(ctx, "/Orders?$filter="+filter)
	if err != nil {
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("no open order %s", docNum)
	}
	return result.Records[0], nil
}

// CreateDraftInvoice posts a draft invoice referencing the base order. The
// draft stays unposted for human review.
func CreateDraftInvoice(ctx context.Context, sap SAPClient, order map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"DocObjectCode": "oInvoices",
		"CardCode":      order["CardCode"],
		"DocDueDate":    order["DocDate"],
		"Comments":      fmt.Sprintf("Draft from order %v via mailbox agent", order["DocNum"]),
		"DocumentLines": []map[string]any{
			{
				"BaseType":  17, // Sales order object type
				"BaseEntry": order["DocEntry"],
				"BaseLine":  0,
			},
		},
	}

	result, err := sap.Post(ctx, "/Drafts", payload)
	if err != nil {
		return nil, fmt.Errorf("draft creation failed: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("draft creation returned no document")
	}
	return result.Records[0], nil
}
