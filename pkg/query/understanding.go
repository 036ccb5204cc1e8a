package query

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
	"sapassist/pkg/saperr"
)

// Confidence scoring constants. The base applies to any well-formed
// extraction; similarity to previously successful questions adds a bounded
// boost.
const (
	baseConfidence    = 0.75
	maxSimilarityGain = 0.15
	maxConfidence     = 0.95
)

// promptTokenBudget caps the assembled extraction prompt.
const promptTokenBudget = 3000

// EntitySuggester guesses the entity set a question is about. Satisfied by
// registry.Registry.
type EntitySuggester interface {
	SuggestEntityType(text string) (string, float64)
	Entities() []string
}

// Understander turns a natural-language question into a StructuredQuery.
type Understander struct {
	client    llm.Client
	suggester EntitySuggester
	examples  *ExampleStore
	counter   *llm.TokenCounter
	logger    *logx.Logger
}

// NewUnderstander creates the understanding layer. examples may be nil.
func NewUnderstander(client llm.Client, suggester EntitySuggester, examples *ExampleStore) *Understander {
	counter, err := llm.NewTokenCounter("gpt-4")
	if err != nil {
		counter = nil
	}
	if examples == nil {
		examples = NewExampleStore(nil)
	}
	return &Understander{
		client:    client,
		suggester: suggester,
		examples:  examples,
		counter:   counter,
		logger:    logx.NewLogger("understand"),
	}
}

//nolint:gochecknoglobals // Static patterns compiled once
var (
	reCountIntent  = regexp.MustCompile(`(?i)\b(how many|count of|number of|total number|combien)\b`)
	reQuotedName   = regexp.MustCompile(`['"]([^'"]{2,60})['"]`)
	reForCustomer  = regexp.MustCompile(`(?i)\b(?:for|from|of customer|client)\s+([A-Z][\w&\-]*(?:\s+[A-Z][\w&\-]*){0,3})`)
	reJSONFence    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	reTopN         = regexp.MustCompile(`(?i)\b(?:top|first|last)\s+(\d{1,3})\b`)
)

const extractionSystemPrompt = `You translate questions about SAP Business One data into JSON.
Respond with a single JSON object and nothing else. Schema:
{
  "entity_type": "<Service Layer entity set, e.g. Orders, Invoices, BusinessPartners, Items>",
  "filter_conditions": [{"field": "<field>", "operator": "eq|ne|gt|ge|lt|le|contains|startswith|endswith", "value": "<value>"}],
  "fields": ["<optional projection>"],
  "top": <int, optional>,
  "order_by": "<field asc|desc, optional>",
  "count_only": <bool, true when the user asks for a count>
}
Use SAP field names: CardName, CardCode, DocNum, DocDate, DocTotal, DocumentStatus, ItemCode, ItemName.
Status values stay as plain words (open, closed, cancelled); they are mapped later.`

// Understand extracts a structured query from the question. The returned
// confidence reflects extraction quality and similarity to past successes.
func (u *Understander) Understand(ctx context.Context, question string) (*StructuredQuery, float64, error) {
	suggested, _ := u.suggester.SuggestEntityType(question)

	examples, bestSimilarity := u.examples.ForQuestion(question, suggested, 3)

	prompt := u.buildPrompt(question, suggested, examples)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(prompt),
		llm.NewUserMessage(question),
	})

	resp, err := u.client.Complete(ctx, req)
	if err != nil {
		return nil, 0, saperr.Wrap(saperr.CodeUnderstanding, "understand", err)
	}

	q, err := parseStructuredQuery(resp.Content)
	if err != nil {
		return nil, 0, saperr.Wrap(saperr.CodeUnderstanding, "understand", err).
			WithDetail("completion", resp.Content)
	}

	u.enforce(q, question, suggested)
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, 0, saperr.Wrap(saperr.CodeUnderstanding, "understand", err)
	}

	confidence := baseConfidence + bestSimilarity*maxSimilarityGain
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	logx.Debug(ctx, "understand", "extracted %s query with confidence %.2f", q.EntityType, confidence)
	return q, confidence, nil
}

// buildPrompt assembles the system prompt within the token budget, dropping
// examples from the end when over budget.
func (u *Understander) buildPrompt(question, suggested string, examples []Example) string {
	var b strings.Builder
	b.WriteString(extractionSystemPrompt)
	b.WriteString("\nKnown entity sets: ")
	b.WriteString(strings.Join(u.suggester.Entities(), ", "))
	if suggested != "" {
		fmt.Fprintf(&b, "\nThe question most likely concerns %s.", suggested)
	}
	b.WriteString("\n\nExamples:\n")

	header := b.String()
	for len(examples) > 0 {
		prompt := header + Render(examples)
		if u.counter == nil || u.counter.ValidateTokenLimit(prompt+question, promptTokenBudget) {
			return prompt
		}
		examples = examples[:len(examples)-1]
	}
	return header
}

// enforce applies deterministic overrides the model is allowed to miss.
func (u *Understander) enforce(q *StructuredQuery, question, suggested string) {
	if q.EntityType == "" && suggested != "" {
		q.EntityType = suggested
	}

	if reCountIntent.MatchString(question) {
		q.CountOnly = true
		q.Top = 0
	}

	if m := reTopN.FindStringSubmatch(question); m != nil && q.Top == 0 && !q.CountOnly {
		fmt.Sscanf(m[1], "%d", &q.Top)
	}

	// A customer named in the question must survive into the filters.
	name := ""
	if m := reQuotedName.FindStringSubmatch(question); m != nil {
		name = m[1]
	} else if m := reForCustomer.FindStringSubmatch(question); m != nil {
		name = strings.TrimSpace(m[1])
	}
	if name != "" && !q.HasFilterOn("CardName") && !q.HasFilterOn("CardCode") && q.EntityType != "Items" {
		q.AddFilter("CardName", OpContains, name)
	}
}

// parseStructuredQuery decodes the model output, tolerating code fences and
// surrounding prose.
func parseStructuredQuery(content string) (*StructuredQuery, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, saperr.ErrEmptyCompletion
	}

	if m := reJSONFence.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	if start := strings.Index(content, "{"); start > 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var q StructuredQuery
	if err := json.Unmarshal([]byte(content), &q); err != nil {
		return nil, fmt.Errorf("failed to decode structured query: %w", err)
	}
	return &q, nil
}
