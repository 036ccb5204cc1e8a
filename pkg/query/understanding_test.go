package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/llm"
)

type stubSuggester struct {
	entity string
	conf   float64
}

func (s *stubSuggester) SuggestEntityType(string) (string, float64) { return s.entity, s.conf }
func (s *stubSuggester) Entities() []string                         { return []string{"Orders", "Invoices", "Items"} }

func TestUnderstandParsesModelOutput(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders","filter_conditions":[{"field":"DocumentStatus","operator":"eq","value":"open"}],"top":10}`)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	q, confidence, err := u.Understand(context.Background(), "show me open orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", q.EntityType)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, "DocumentStatus", q.Filters[0].Field)
	assert.Equal(t, 10, q.Top)
	assert.InDelta(t, 0.75, confidence, 0.21)
}

func TestUnderstandStripsCodeFences(t *testing.T) {
	mock := llm.NewMockClient("```json\n{\"entity_type\":\"Invoices\"}\n```")
	u := NewUnderstander(mock, &stubSuggester{entity: "Invoices", conf: 0.9}, nil)

	q, _, err := u.Understand(context.Background(), "list invoices")
	require.NoError(t, err)
	assert.Equal(t, "Invoices", q.EntityType)
}

func TestUnderstandFillsMissingEntity(t *testing.T) {
	mock := llm.NewMockClient(`{"top":5}`)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.8}, nil)

	q, _, err := u.Understand(context.Background(), "give me five of them")
	require.NoError(t, err)
	assert.Equal(t, "Orders", q.EntityType)
}

func TestUnderstandForcesCountIntent(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders","top":50}`)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	q, _, err := u.Understand(context.Background(), "how many orders do we have")
	require.NoError(t, err)
	assert.True(t, q.CountOnly)
	assert.Zero(t, q.Top)
}

func TestUnderstandEnforcesCustomerFilter(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders"}`)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	q, _, err := u.Understand(context.Background(), "orders for Maxi-Teq please")
	require.NoError(t, err)
	require.True(t, q.HasFilterOn("CardName"))
	assert.Equal(t, OpContains, q.Filters[0].Operator)
}

func TestUnderstandKeepsModelProvidedCustomerFilter(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders","filter_conditions":[{"field":"CardCode","operator":"eq","value":"C20000"}]}`)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	q, _, err := u.Understand(context.Background(), "orders for Maxi-Teq")
	require.NoError(t, err)
	assert.Len(t, q.Filters, 1)
}

func TestUnderstandModelFailure(t *testing.T) {
	mock := llm.NewMockClient("")
	mock.FailWith(assert.AnError)
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	_, _, err := u.Understand(context.Background(), "anything")
	assert.Error(t, err)
}

func TestUnderstandGarbageOutput(t *testing.T) {
	mock := llm.NewMockClient("I cannot answer that")
	u := NewUnderstander(mock, &stubSuggester{entity: "Orders", conf: 0.9}, nil)

	_, _, err := u.Understand(context.Background(), "orders")
	assert.Error(t, err)
}

func TestParseStructuredQueryTolerance(t *testing.T) {
	q, err := parseStructuredQuery("Here you go: {\"entity_type\":\"Items\"} hope it helps")
	require.NoError(t, err)
	assert.Equal(t, "Items", q.EntityType)

	_, err = parseStructuredQuery("")
	assert.Error(t, err)
}
