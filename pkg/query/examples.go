package query

import (
	"fmt"
	"strings"

	"sapassist/pkg/knowledge"
)

// Example is one question/query pair used for few-shot prompting.
type Example struct {
	Question string
	Query    string // JSON form of the StructuredQuery
}

// staticExamples ship with the binary and anchor the extraction format.
//
//nolint:gochecknoglobals // Static few-shot catalog
var staticExamples = []Example{
	{
		Question: "show me open orders",
		Query:    `{"entity_type":"Orders","filter_conditions":[{"field":"DocumentStatus","operator":"eq","value":"open"}],"top":50}`,
	},
	{
		Question: "invoices for ACME above 1000",
		Query:    `{"entity_type":"Invoices","filter_conditions":[{"field":"CardName","operator":"contains","value":"ACME"},{"field":"DocTotal","operator":"gt","value":"1000"}],"top":50}`,
	},
	{
		Question: "how many quotations do we have",
		Query:    `{"entity_type":"Quotations","count_only":true}`,
	},
	{
		Question: "last 5 orders sorted by date",
		Query:    `{"entity_type":"Orders","top":5,"order_by":"DocDate desc"}`,
	},
	{
		Question: "order number 1234",
		Query:    `{"entity_type":"Orders","filter_conditions":[{"field":"DocNum","operator":"eq","value":"1234"}]}`,
	},
}

// ExampleStore assembles few-shot examples: the static catalog plus stored
// queries similar to the current question.
type ExampleStore struct {
	ops *knowledge.StoreOperations
}

// NewExampleStore creates a store. ops may be nil, in which case only static
// examples are returned.
func NewExampleStore(ops *knowledge.StoreOperations) *ExampleStore {
	return &ExampleStore{ops: ops}
}

// ForQuestion returns examples for prompting plus the best similarity score
// among stored matches (zero when none matched).
func (s *ExampleStore) ForQuestion(question, entityType string, limit int) ([]Example, float64) {
	examples := make([]Example, 0, len(staticExamples)+limit)
	examples = append(examples, staticExamples...)

	if s.ops == nil {
		return examples, 0
	}

	stored, scores, err := s.ops.SimilarQueries(question, entityType, limit)
	if err != nil {
		return examples, 0
	}

	best := 0.0
	for i, sq := range stored {
		examples = append(examples, Example{
			Question: sq.Question,
			Query:    fmt.Sprintf(`{"entity_type":%q,"url":%q}`, sq.EntityType, sq.URL),
		})
		if scores[i] > best {
			best = scores[i]
		}
	}
	return examples, best
}

// Render formats examples as a prompt section.
func Render(examples []Example) string {
	var b strings.Builder
	for _, ex := range examples {
		b.WriteString("Q: ")
		b.WriteString(ex.Question)
		b.WriteString("\nA: ")
		b.WriteString(ex.Query)
		b.WriteString("\n")
	}
	return b.String()
}
