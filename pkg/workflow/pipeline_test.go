package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/config"
	"sapassist/pkg/intent"
	"sapassist/pkg/knowledge"
	"sapassist/pkg/llm"
	"sapassist/pkg/registry"
	"sapassist/pkg/sapclient"
)

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		MaxCorrectionRetries: 2,
		MaxStateRetries:      3,
		AnalysisEveryQueries: 50,
		AnalysisInterval:     time.Hour,
		IntentThreshold:      0.8,
		RiskThreshold:        0.5,
	}
}

func newTestPipeline(t *testing.T, client llm.Client) *Pipeline {
	t.Helper()
	require.NoError(t, knowledge.Reset())
	require.NoError(t, knowledge.Initialize(filepath.Join(t.TempDir(), "k.db"), "test"))
	t.Cleanup(func() { _ = knowledge.Reset() })

	sap := sapclient.New(&config.SAPConfig{
		BaseURL:        "https://demo.invalid/b1s/v1",
		DemoMode:       true,
		SessionTTL:     25 * time.Minute,
		RequestTimeout: 5 * time.Second,
		CacheTTL:       time.Minute,
	}, "")

	return NewPipeline(client, sap, registry.NewRegistry(), knowledge.Ops(), nil, testWorkflowConfig())
}

func TestProcessTemplateFastPath(t *testing.T) {
	p := newTestPipeline(t, nil)

	answer, err := p.Process(context.Background(), "show me order 10001")
	require.NoError(t, err)
	assert.Equal(t, "Orders", answer.Entity)
	assert.Equal(t, "/Orders?$filter=DocNum eq 10001", answer.URL)
	assert.Contains(t, answer.Text, "10001")
	assert.Contains(t, answer.Text, "Maxi-Teq")
	assert.Empty(t, answer.Corrections)
	assert.NotEmpty(t, answer.RunID)
}

func TestProcessCountFastPath(t *testing.T) {
	p := newTestPipeline(t, nil)

	answer, err := p.Process(context.Background(), "how many orders do we have")
	require.NoError(t, err)
	assert.Equal(t, "/Orders/$count", answer.URL)
	assert.Contains(t, answer.Text, "4")
}

func TestProcessUnderstandingPath(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders","filter_conditions":[{"field":"DocumentStatus","operator":"eq","value":"bost_Open"}]}`)
	p := newTestPipeline(t, mock)

	answer, err := p.Process(context.Background(), "which orders are still waiting on us")
	require.NoError(t, err)
	assert.Equal(t, "Orders", answer.Entity)
	assert.Contains(t, answer.URL, "DocumentStatus eq bost_Open")
	assert.NotEmpty(t, answer.Text)

	// Successful runs land in the example store for future retrieval.
	queries, _, err := knowledge.Ops().SimilarQueries("which orders are still waiting on us", "Orders", 1)
	require.NoError(t, err)
	require.Len(t, queries, 1)
}

func TestProcessRecoversFromTemplateFailure(t *testing.T) {
	mock := llm.NewMockClient(`{"entity_type":"Orders","top":5}`)
	p := newTestPipeline(t, mock)

	r := &run{
		BaseStateMachine: NewBaseStateMachine("run-test", StateExecute, nil, ValidTransitions),
		p:                p,
	}
	SetTyped(r.BaseStateMachine, keyQuestion, "orders please")
	SetTyped(r.BaseStateMachine, keyIntent, &intent.Result{Name: intent.ListOpen, Entity: "Orders", Confidence: 0.9})
	SetTyped(r.BaseStateMachine, keyURL, "/Spaceships")

	ctx := context.Background()
	next, _, err := r.processExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRecover, next)
	require.NoError(t, r.TransitionTo(ctx, StateRecover, nil))

	next, _, err = r.processRecover(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateExecute, next)
	recovered, _ := GetTyped[bool](r.BaseStateMachine, keyRecovered)
	assert.True(t, recovered)

	next, _, err = r.processExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateFormat, next)

	// A second failure after recovery is terminal.
	SetTyped(r.BaseStateMachine, keyURL, "/Spaceships")
	next, _, err = r.processExecute(ctx)
	require.Error(t, err)
	assert.Equal(t, StateError, next)
}

func TestProcessSurfacesModelFailure(t *testing.T) {
	mock := llm.NewMockClient("")
	mock.FailWith(assert.AnError)
	p := newTestPipeline(t, mock)

	_, err := p.Process(context.Background(), "something only the model could interpret")
	assert.Error(t, err)
}

func TestProcessPersistsRunState(t *testing.T) {
	p := newTestPipeline(t, nil)

	answer, err := p.Process(context.Background(), "show me order 10001")
	require.NoError(t, err)

	store, err := NewSQLiteStateStore(knowledge.GetDB())
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, store.Load(answer.RunID, &state))
	assert.Equal(t, StateDone.String(), state["current_state"])
}

func TestAnalysisCadenceZeroDoesNotPanic(t *testing.T) {
	cfg := testWorkflowConfig()
	cfg.AnalysisEveryQueries = 0
	p := NewPipeline(nil, nil, registry.NewRegistry(), nil, nil, cfg)

	assert.NotPanics(t, func() { p.bumpAndMaybeAnalyze(context.Background()) })
}
