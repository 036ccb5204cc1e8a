// Package intent classifies questions into known query intents, preferring a
// fast keyword classifier and falling back to a zero-shot model call.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
	"sapassist/pkg/saperr"
)

// Intent names. Entity-generic intents combine with the resolved entity set.
const (
	FindSpecific   = "FindSpecific"   // One document by number
	ListOpen       = "ListOpen"       // Open documents
	ListRecent     = "ListRecent"     // Recent documents, date-ordered
	Count          = "Count"          // Count documents
	FindByCustomer = "FindByCustomer" // Documents of one business partner
	GeneralQuery   = "GeneralQuery"   // Anything needing full understanding
)

// Result is a classified question.
type Result struct {
	Name       string
	Entity     string
	Confidence float64
	Parameters map[string]string
	Source     string // "fast" or "model"
}

// EntitySuggester guesses the entity set a question is about.
type EntitySuggester interface {
	SuggestEntityType(text string) (string, float64)
}

// Recognizer classifies questions. The model client is only consulted when
// the keyword classifier scores below the threshold.
type Recognizer struct {
	client    llm.Client
	suggester EntitySuggester
	threshold float64
	logger    *logx.Logger
}

// NewRecognizer creates a recognizer. client may be nil to disable the model
// fallback.
func NewRecognizer(client llm.Client, suggester EntitySuggester, threshold float64) *Recognizer {
	return &Recognizer{
		client:    client,
		suggester: suggester,
		threshold: threshold,
		logger:    logx.NewLogger("intent"),
	}
}

//nolint:gochecknoglobals // Static patterns compiled once
var (
	reDocNumber  = regexp.MustCompile(`(?i)\b(?:order|invoice|quotation|document|po|number|n°|#)\s*#?\s*(\d{1,10})\b`)
	reBareNumber = regexp.MustCompile(`\b(\d{3,10})\b`)
	reOpenWord   = regexp.MustCompile(`(?i)\b(open|pending|outstanding|en cours|ouvert(?:e?s)?)\b`)
	reCountWord  = regexp.MustCompile(`(?i)\b(how many|count|number of|combien)\b`)
	reRecentWord = regexp.MustCompile(`(?i)\b(recent|latest|last|newest|derni(?:er|ère)s?)\b`)
	reCustomer   = regexp.MustCompile(`(?i)\b(?:for|from|of|customer|client|partner)\s+((?:[A-Z][\w&\-.]*\s?){1,4})`)
)

// Recognize classifies the question.
func (r *Recognizer) Recognize(ctx context.Context, question string) (*Result, error) {
	entity, entityConf := r.suggester.SuggestEntityType(question)

	if res := classifyFast(question, entity, entityConf); res.Confidence >= r.threshold {
		res.Source = "fast"
		logx.Debug(ctx, "intent", "fast classification: %s/%s (%.2f)", res.Entity, res.Name, res.Confidence)
		return res, nil
	}

	if r.client == nil {
		res := classifyFast(question, entity, entityConf)
		res.Source = "fast"
		return res, nil
	}

	res, err := r.classifyWithModel(ctx, question, entity)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// classifyFast scores keyword patterns. Confidence combines the pattern
// strength with the entity suggestion.
func classifyFast(question, entity string, entityConf float64) *Result {
	res := &Result{
		Name:       GeneralQuery,
		Entity:     entity,
		Confidence: 0.3,
		Parameters: map[string]string{},
	}

	switch {
	case reDocNumber.MatchString(question):
		m := reDocNumber.FindStringSubmatch(question)
		res.Name = FindSpecific
		res.Parameters["DocNum"] = m[1]
		res.Confidence = 0.9
	case reCountWord.MatchString(question):
		res.Name = Count
		res.Confidence = 0.85
		if reOpenWord.MatchString(question) {
			res.Parameters["Status"] = "open"
		}
	case reOpenWord.MatchString(question) && entity != "":
		res.Name = ListOpen
		res.Confidence = 0.85
	case reRecentWord.MatchString(question) && entity != "":
		res.Name = ListRecent
		res.Confidence = 0.8
		if m := regexp.MustCompile(`\b(\d{1,3})\b`).FindStringSubmatch(question); m != nil {
			res.Parameters["Top"] = m[1]
		}
	case reCustomer.MatchString(question) && entity != "":
		m := reCustomer.FindStringSubmatch(question)
		res.Name = FindByCustomer
		res.Parameters["CardName"] = strings.TrimSpace(m[1])
		res.Confidence = 0.8
	}

	// A weak entity guess drags the intent down with it.
	if entity == "" {
		res.Confidence *= 0.6
	} else if entityConf < 0.7 {
		res.Confidence *= 0.9
	}
	return res
}

const classifySystemPrompt = `Classify the question about SAP Business One data into exactly one intent:
FindSpecific, ListOpen, ListRecent, Count, FindByCustomer, GeneralQuery.
Answer in exactly this format, nothing else:
INTENT: <name>
CONFIDENCE: <0.0-1.0>`

//nolint:gochecknoglobals // Static patterns compiled once
var (
	reIntentLine     = regexp.MustCompile(`(?m)^INTENT:\s*(\w+)`)
	reConfidenceLine = regexp.MustCompile(`(?m)^CONFIDENCE:\s*([\d.]+)`)
)

func (r *Recognizer) classifyWithModel(ctx context.Context, question, entity string) (*Result, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(classifySystemPrompt),
		llm.NewUserMessage(question),
	})

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeIntent, "intent", err)
	}

	res := &Result{
		Name:       GeneralQuery,
		Entity:     entity,
		Confidence: 0.5,
		Parameters: map[string]string{},
		Source:     "model",
	}

	if m := reIntentLine.FindStringSubmatch(resp.Content); m != nil {
		switch m[1] {
		case FindSpecific, ListOpen, ListRecent, Count, FindByCustomer, GeneralQuery:
			res.Name = m[1]
		}
	}
	if m := reConfidenceLine.FindStringSubmatch(resp.Content); m != nil {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil && c >= 0 && c <= 1 {
			res.Confidence = c
		}
	}

	// The fast patterns still supply parameters the model answer lacks.
	fast := classifyFast(question, entity, 1.0)
	if fast.Name == res.Name {
		res.Parameters = fast.Parameters
	}

	logx.Debug(ctx, "intent", "model classification: %s/%s (%.2f)", res.Entity, res.Name, res.Confidence)
	return res, nil
}
