// Package timeres resolves natural-language time expressions into date
// ranges suitable for DocDate filters.
package timeres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
)

// Resolution is a resolved time expression.
type Resolution struct {
	Expression string    // The matched expression as found in the text
	Start      time.Time // Inclusive start of day
	End        time.Time // Exclusive end (start of the following day)
}

// Resolver turns temporal phrases into date ranges. A model client is
// optional; when present it is used as a fallback for phrases the regex
// catalog does not cover.
type Resolver struct {
	client llm.Client
	logger *logx.Logger
	now    func() time.Time
}

// NewResolver creates a resolver. client may be nil to disable the fallback.
func NewResolver(client llm.Client) *Resolver {
	return &Resolver{
		client: client,
		logger: logx.NewLogger("timeres"),
		now:    time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

//nolint:gochecknoglobals // Static regex catalog compiled once
var (
	reLastN       = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+(day|week|month|year)s?\b`)
	reBetween     = regexp.MustCompile(`(?i)\bbetween\s+(\d{4}-\d{2}-\d{2})\s+and\s+(\d{4}-\d{2}-\d{2})\b`)
	reFromTo      = regexp.MustCompile(`(?i)\bfrom\s+(\d{4}-\d{2}-\d{2})\s+(?:to|until)\s+(\d{4}-\d{2}-\d{2})\b`)
	reBareYear    = regexp.MustCompile(`\b(20\d{2})\b`)
	reMonthName   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(20\d{2}))?\b`)
	reTemporalish = regexp.MustCompile(`(?i)\b(since|ago|recent|recently|earlier|before|after|during|period)\b`)
)

//nolint:gochecknoglobals // Month name lookup
var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

func startOfQuarter(t time.Time) time.Time {
	q := (int(t.Month()) - 1) / 3
	return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, t.Location())
}

// Resolve finds the first recognizable time expression in text.
// Returns nil when the text carries no temporal meaning.
func (r *Resolver) Resolve(ctx context.Context, text string) (*Resolution, error) {
	lower := strings.ToLower(text)
	now := r.now()
	today := startOfDay(now)

	// Fixed vocabulary first. Order matters: "last week" must win over the
	// bare "week" inside it.
	switch {
	case strings.Contains(lower, "today"):
		return &Resolution{Expression: "today", Start: today, End: today.AddDate(0, 0, 1)}, nil
	case strings.Contains(lower, "yesterday"):
		return &Resolution{Expression: "yesterday", Start: today.AddDate(0, 0, -1), End: today}, nil
	case strings.Contains(lower, "last week"):
		start := startOfWeek(today).AddDate(0, 0, -7)
		return &Resolution{Expression: "last week", Start: start, End: start.AddDate(0, 0, 7)}, nil
	case strings.Contains(lower, "this week"):
		start := startOfWeek(today)
		return &Resolution{Expression: "this week", Start: start, End: start.AddDate(0, 0, 7)}, nil
	case strings.Contains(lower, "business week"):
		// Monday through Friday of the current week.
		start := startOfWeek(today)
		return &Resolution{Expression: "business week", Start: start, End: start.AddDate(0, 0, 5)}, nil
	case strings.Contains(lower, "last month"):
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()).AddDate(0, -1, 0)
		return &Resolution{Expression: "last month", Start: start, End: start.AddDate(0, 1, 0)}, nil
	case strings.Contains(lower, "this month"):
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return &Resolution{Expression: "this month", Start: start, End: start.AddDate(0, 1, 0)}, nil
	case strings.Contains(lower, "last quarter"):
		start := startOfQuarter(today).AddDate(0, -3, 0)
		return &Resolution{Expression: "last quarter", Start: start, End: start.AddDate(0, 3, 0)}, nil
	case strings.Contains(lower, "this quarter"):
		start := startOfQuarter(today)
		return &Resolution{Expression: "this quarter", Start: start, End: start.AddDate(0, 3, 0)}, nil
	case strings.Contains(lower, "last year"):
		start := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, today.Location())
		return &Resolution{Expression: "last year", Start: start, End: start.AddDate(1, 0, 0)}, nil
	case strings.Contains(lower, "this year"):
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		return &Resolution{Expression: "this year", Start: start, End: start.AddDate(1, 0, 0)}, nil
	}

	if m := reLastN.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		var start time.Time
		switch strings.ToLower(m[2]) {
		case "day":
			start = today.AddDate(0, 0, -n)
		case "week":
			start = today.AddDate(0, 0, -7*n)
		case "month":
			start = today.AddDate(0, -n, 0)
		case "year":
			start = today.AddDate(-n, 0, 0)
		}
		return &Resolution{Expression: m[0], Start: start, End: today.AddDate(0, 0, 1)}, nil
	}

	for _, re := range []*regexp.Regexp{reBetween, reFromTo} {
		if m := re.FindStringSubmatch(text); m != nil {
			start, err1 := time.Parse("2006-01-02", m[1])
			end, err2 := time.Parse("2006-01-02", m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			return &Resolution{Expression: m[0], Start: start, End: end.AddDate(0, 0, 1)}, nil
		}
	}

	if m := reMonthName.FindStringSubmatch(text); m != nil {
		month := monthsByName[strings.ToLower(m[1])]
		year := today.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		} else if month > today.Month() {
			// A bare future month means last year's occurrence.
			year--
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, today.Location())
		return &Resolution{Expression: m[0], Start: start, End: start.AddDate(0, 1, 0)}, nil
	}

	if m := reBareYear.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, today.Location())
		return &Resolution{Expression: m[1], Start: start, End: start.AddDate(1, 0, 0)}, nil
	}

	// Model fallback only when the phrase smells temporal.
	if r.client != nil && reTemporalish.MatchString(text) {
		return r.resolveWithModel(ctx, text)
	}

	return nil, nil
}

// resolveWithModel asks the model for an explicit range.
func (r *Resolver) resolveWithModel(ctx context.Context, text string) (*Resolution, error) {
	prompt := fmt.Sprintf(
		"Today is %s. Extract the date range referenced by this request, if any: %q\n"+
			"Reply with JSON only: {\"expression\": \"...\", \"start\": \"YYYY-MM-DD\", \"end\": \"YYYY-MM-DD\"} "+
			"where end is exclusive. Reply {} if there is no time reference.",
		r.now().Format("2006-01-02"), text)

	resp, err := r.client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage(prompt),
	}))
	if err != nil {
		return nil, fmt.Errorf("time resolution fallback failed: %w", err)
	}

	var parsed struct {
		Expression string `json:"expression"`
		Start      string `json:"start"`
		End        string `json:"end"`
	}
	cleaned := strings.TrimSpace(resp.Content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.Trim(cleaned, "` \n")
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		r.logger.Warn("unparseable time resolution reply: %v", err)
		return nil, nil
	}
	if parsed.Start == "" || parsed.End == "" {
		return nil, nil
	}

	start, err := time.Parse("2006-01-02", parsed.Start)
	if err != nil {
		return nil, nil
	}
	end, err := time.Parse("2006-01-02", parsed.End)
	if err != nil {
		return nil, nil
	}

	return &Resolution{Expression: parsed.Expression, Start: start, End: end}, nil
}
