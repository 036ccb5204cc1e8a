package odata

import (
	"regexp"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a URL, with an automatic fix when known.
type Issue struct {
	Code     string
	Severity Severity
	Message  string
	Fixable  bool
}

// Validator checks Service Layer URLs for dialect violations.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

//nolint:gochecknoglobals // Static patterns compiled once
var (
	reLooseOp       = regexp.MustCompile(`\s(>=|<=|<>|=|<|>)\s`)
	reBareDate      = regexp.MustCompile(`(eq|ne|gt|ge|lt|le)\s+'(\d{4}-\d{2}-\d{2})(?:T[\d:]+)?'`)
	reQuotedNumeric = regexp.MustCompile(`\b(DocEntry|DocNum|DocumentNumber|AbsoluteEntry|ItemsGroupCode)\s+(eq|ne|gt|ge|lt|le)\s+'(\d+)'`)
	reUnquotedText  = regexp.MustCompile(`\b(CardName|CardCode|ItemName|ItemCode|Comments)\s+(eq|ne)\s+([A-Za-z][\w\-]*)\b`)
	reBoolConstant  = regexp.MustCompile(`\b(eq|ne)\s+(true|false)\b`)
	reStatusWord    = regexp.MustCompile(`\b(DocumentStatus|DocStatus)\s+(eq|ne)\s+'?(open|closed|close|cancelled|canceled)'?`)
	reDoubleSpace   = regexp.MustCompile(`\s{2,}`)
	reInlineCount   = regexp.MustCompile(`\$inlinecount=allpages`)
)

// looseOpWords maps symbolic comparison operators to their OData keywords.
//
//nolint:gochecknoglobals // Static operator table
var looseOpWords = map[string]string{
	"=":  "eq",
	"<>": "ne",
	"<":  "lt",
	">":  "gt",
	"<=": "le",
	">=": "ge",
}

// filterExpr returns the $filter expression of a URL, or "" when absent.
func filterExpr(url string) string {
	i := strings.Index(url, "$filter=")
	if i < 0 {
		return ""
	}
	expr := url[i+len("$filter="):]
	if j := strings.Index(expr, "&"); j >= 0 {
		expr = expr[:j]
	}
	return expr
}

// countUnescapedQuotes counts single quotes treating '' as an escape.
func countUnescapedQuotes(s string) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '\'' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			i++ // Escaped quote
			continue
		}
		count++
	}
	return count
}

// Validate inspects a relative Service Layer URL and reports issues.
func (v *Validator) Validate(url string) []Issue {
	var issues []Issue

	if url == "" || !strings.HasPrefix(url, "/") {
		issues = append(issues, Issue{
			Code: "malformed_url", Severity: SeverityError,
			Message: "URL must be a relative path starting with /",
		})
		return issues
	}

	if countUnescapedQuotes(url)%2 != 0 {
		issues = append(issues, Issue{
			Code: "unbalanced_quotes", Severity: SeverityError,
			Message: "odd number of single quotes in URL",
		})
	}

	if strings.Count(url, "(") != strings.Count(url, ")") {
		issues = append(issues, Issue{
			Code: "unbalanced_parens", Severity: SeverityError,
			Message: "unbalanced parentheses in URL",
		})
	}

	if strings.Contains(url, "$filter=&") || strings.HasSuffix(url, "$filter=") {
		issues = append(issues, Issue{
			Code: "empty_filter", Severity: SeverityError,
			Message: "$filter present but empty", Fixable: true,
		})
	}

	if strings.Contains(url, "==") || strings.Contains(url, "!=") || reLooseOp.MatchString(filterExpr(url)) {
		issues = append(issues, Issue{
			Code: "comparison_syntax", Severity: SeverityError,
			Message: "symbolic comparison operators, OData uses eq/ne/gt/lt", Fixable: true,
		})
	}

	if reBareDate.MatchString(url) {
		issues = append(issues, Issue{
			Code: "bare_date_literal", Severity: SeverityError,
			Message: "date compared as plain string, needs datetime'...' literal", Fixable: true,
		})
	}

	if reQuotedNumeric.MatchString(url) {
		issues = append(issues, Issue{
			Code: "quoted_numeric", Severity: SeverityError,
			Message: "numeric field compared against quoted value", Fixable: true,
		})
	}

	if reUnquotedText.MatchString(url) {
		issues = append(issues, Issue{
			Code: "unquoted_string", Severity: SeverityError,
			Message: "string field compared against unquoted value", Fixable: true,
		})
	}

	if reBoolConstant.MatchString(url) {
		issues = append(issues, Issue{
			Code: "boolean_constant", Severity: SeverityError,
			Message: "true/false used, Service Layer expects tYES/tNO", Fixable: true,
		})
	}

	if reStatusWord.MatchString(url) {
		issues = append(issues, Issue{
			Code: "status_word", Severity: SeverityError,
			Message: "plain status word used, Service Layer expects bost_* enums", Fixable: true,
		})
	}

	if reInlineCount.MatchString(url) {
		issues = append(issues, Issue{
			Code: "inlinecount_syntax", Severity: SeverityWarning,
			Message: "$inlinecount=allpages is the legacy form of $count=true", Fixable: true,
		})
	}

	if strings.Contains(url, "/$count") && strings.Contains(url, "$top=") {
		issues = append(issues, Issue{
			Code: "count_with_top", Severity: SeverityWarning,
			Message: "$top has no effect on a /$count request", Fixable: true,
		})
	}

	return issues
}

// HasErrors reports whether any issue is error severity.
func HasErrors(issues []Issue) bool {
	for i := range issues {
		if issues[i].Severity == SeverityError {
			return true
		}
	}
	return false
}

// Fix applies every known automatic repair and returns the fixed URL plus
// the codes of the fixes applied.
func (v *Validator) Fix(url string) (string, []string) {
	var applied []string
	fixed := url

	if strings.Contains(fixed, "==") {
		fixed = strings.ReplaceAll(fixed, "==", " eq ")
		applied = append(applied, "comparison_syntax")
	}
	if strings.Contains(fixed, "!=") {
		fixed = strings.ReplaceAll(fixed, "!=", " ne ")
		applied = append(applied, "comparison_syntax")
	}

	if expr := filterExpr(fixed); expr != "" && reLooseOp.MatchString(expr) {
		repl := reLooseOp.ReplaceAllStringFunc(expr, func(m string) string {
			return " " + looseOpWords[strings.TrimSpace(m)] + " "
		})
		fixed = strings.Replace(fixed, expr, repl, 1)
		applied = append(applied, "comparison_syntax")
	}

	if reBareDate.MatchString(fixed) {
		fixed = reBareDate.ReplaceAllString(fixed, "$1 datetime'${2}T00:00:00'")
		applied = append(applied, "bare_date_literal")
	}

	if reQuotedNumeric.MatchString(fixed) {
		fixed = reQuotedNumeric.ReplaceAllString(fixed, "$1 $2 $3")
		applied = append(applied, "quoted_numeric")
	}

	if reUnquotedText.MatchString(fixed) {
		fixed = reUnquotedText.ReplaceAllString(fixed, "$1 $2 '$3'")
		applied = append(applied, "unquoted_string")
	}

	if reBoolConstant.MatchString(fixed) {
		fixed = reBoolConstant.ReplaceAllStringFunc(fixed, func(m string) string {
			m = strings.Replace(m, "true", "tYES", 1)
			return strings.Replace(m, "false", "tNO", 1)
		})
		applied = append(applied, "boolean_constant")
	}

	if reStatusWord.MatchString(fixed) {
		fixed = reStatusWord.ReplaceAllStringFunc(fixed, func(m string) string {
			sub := reStatusWord.FindStringSubmatch(m)
			literal := "bost_Open"
			switch strings.ToLower(sub[3]) {
			case "closed", "close":
				literal = "bost_Close"
			case "cancelled", "canceled":
				literal = "bost_Cancelled"
			}
			return "DocumentStatus " + sub[2] + " " + literal
		})
		applied = append(applied, "status_word")
	}

	if reInlineCount.MatchString(fixed) {
		fixed = reInlineCount.ReplaceAllString(fixed, "$$count=true")
		applied = append(applied, "inlinecount_syntax")
	}

	if strings.Contains(fixed, "/$count") && strings.Contains(fixed, "$top=") {
		fixed = regexp.MustCompile(`[&?]\$top=\d+`).ReplaceAllStringFunc(fixed, func(m string) string {
			if strings.HasPrefix(m, "?") {
				return "?"
			}
			return ""
		})
		fixed = strings.ReplaceAll(fixed, "?&", "?")
		fixed = strings.TrimSuffix(fixed, "?")
		applied = append(applied, "count_with_top")
	}

	if strings.Contains(fixed, "$filter=&") {
		fixed = strings.ReplaceAll(fixed, "$filter=&", "")
		applied = append(applied, "empty_filter")
	}
	if strings.HasSuffix(fixed, "$filter=") {
		fixed = strings.TrimSuffix(fixed, "$filter=")
		fixed = strings.TrimSuffix(fixed, "?")
		fixed = strings.TrimSuffix(fixed, "&")
		applied = append(applied, "empty_filter")
	}

	fixed = reDoubleSpace.ReplaceAllString(fixed, " ")

	return fixed, applied
}
