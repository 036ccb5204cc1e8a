package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sapassist/pkg/config"
	"sapassist/pkg/executor"
	"sapassist/pkg/format"
	"sapassist/pkg/intent"
	"sapassist/pkg/knowledge"
	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
	"sapassist/pkg/metrics"
	"sapassist/pkg/odata"
	"sapassist/pkg/query"
	"sapassist/pkg/registry"
	"sapassist/pkg/sapclient"
	"sapassist/pkg/saperr"
	"sapassist/pkg/timeres"
)

// State data keys shared between pipeline states.
const (
	keyQuestion   = "question"
	keyIntent     = "intent"
	keyQuery      = "structured_query"
	keyConfidence = "confidence"
	keyURL        = "url"
	keyResult     = "result"
	keyAnswer     = "answer"
	keyRecovered   = "recovered"
	keyCorrections = "corrections"
	keyExecError   = "exec_error"
)

// Answer is the final output of a pipeline run.
type Answer struct {
	Text        string
	Entity      string
	URL         string
	Confidence  float64
	Corrections []string
	Duration    time.Duration
	RunID       string
}

// Pipeline owns the stage components and runs questions through them.
type Pipeline struct {
	recognizer   *intent.Recognizer
	understander *query.Understander
	registry     *registry.Registry
	builder      *odata.Builder
	executor     *executor.Executor
	formatter    *format.Formatter
	timeResolver *timeres.Resolver
	ops          *knowledge.StoreOperations
	recorder     *metrics.Recorder
	store        StateStore
	cfg          config.WorkflowConfig
	logger       *logx.Logger

	mu           sync.Mutex
	queryCount   int
	lastAnalysis time.Time
}

// NewPipeline wires the stage components. recorder may be nil.
func NewPipeline(client llm.Client, sap *sapclient.Client, reg *registry.Registry, ops *knowledge.StoreOperations, recorder *metrics.Recorder, cfg config.WorkflowConfig) *Pipeline {
	logger := logx.NewLogger("pipeline")
	examples := query.NewExampleStore(ops)

	// Model calls carry a stage label into the metrics.
	meter := func(stage string) llm.Client {
		if client == nil || recorder == nil {
			return client
		}
		return llm.NewMeteredClient(client, stage, recorder)
	}

	var store StateStore
	if knowledge.IsInitialized() {
		s, err := NewSQLiteStateStore(knowledge.GetDB())
		if err != nil {
			logger.Warn("run state persistence unavailable: %v", err)
		} else {
			store = s
		}
	}

	return &Pipeline{
		recognizer:   intent.NewRecognizer(meter("intent"), reg, cfg.IntentThreshold),
		understander: query.NewUnderstander(meter("understand"), reg, examples),
		registry:     reg,
		builder:      odata.NewBuilder(reg),
		executor:     executor.New(sap, ops, reg, recorder, cfg.MaxCorrectionRetries, cfg.RiskThreshold),
		formatter:    format.NewFormatter(reg, format.StyleTable),
		timeResolver: timeres.NewResolver(meter("timeres")),
		ops:          ops,
		recorder:     recorder,
		store:        store,
		cfg:          cfg,
		logger:       logger,
		lastAnalysis: time.Now(),
	}
}

// run carries one question through the machine.
type run struct {
	*BaseStateMachine
	p *Pipeline
}

// Process answers one question. Each call is an independent run with its own
// state machine.
func (p *Pipeline) Process(ctx context.Context, question string) (*Answer, error) {
	runID := "run-" + uuid.NewString()[:8]
	r := &run{
		BaseStateMachine: NewBaseStateMachine(runID, StateIntent, p.store, ValidTransitions),
		p:                p,
	}
	r.SetMaxRetries(p.cfg.MaxStateRetries)
	if err := r.Initialize(ctx); err != nil {
		p.logger.Warn("run state restore failed: %v", err)
	}
	SetTyped(r.BaseStateMachine, keyQuestion, question)

	start := time.Now()
	var runErr error
	for !IsTerminal(r.GetCurrentState()) {
		next, done, err := r.ProcessState(ctx)
		if err != nil {
			runErr = err
			if terr := r.TransitionTo(ctx, StateError, map[string]any{"error": err.Error()}); terr != nil {
				p.logger.Error("failed to enter error state: %v", terr)
			}
			break
		}
		if err := r.TransitionTo(ctx, next, nil); err != nil {
			runErr = err
			break
		}
		if cerr := r.CompactIfNeeded(); cerr != nil {
			p.logger.Warn("state compaction failed: %v", cerr)
		}
		if done {
			break
		}
	}
	duration := time.Since(start)

	entity := ""
	if q, ok := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery); ok {
		entity = q.EntityType
	} else if res, ok := GetTyped[*intent.Result](r.BaseStateMachine, keyIntent); ok {
		entity = res.Entity
	}

	if p.recorder != nil {
		p.recorder.ObserveQuery(entity, runErr == nil, duration)
	}
	p.bumpAndMaybeAnalyze(ctx)

	if runErr != nil {
		return nil, runErr
	}

	answer := &Answer{Entity: entity, Duration: duration, RunID: runID}
	answer.Text, _ = GetTyped[string](r.BaseStateMachine, keyAnswer)
	answer.URL, _ = GetTyped[string](r.BaseStateMachine, keyURL)
	answer.Confidence, _ = GetTyped[float64](r.BaseStateMachine, keyConfidence)
	answer.Corrections, _ = GetTyped[[]string](r.BaseStateMachine, keyCorrections)
	return answer, nil
}

// ProcessState dispatches on the current state.
func (r *run) ProcessState(ctx context.Context) (State, bool, error) {
	switch r.GetCurrentState() {
	case StateIntent:
		return r.processIntent(ctx)
	case StateUnderstand:
		return r.processUnderstand(ctx)
	case StateOrchestrate:
		return r.processOrchestrate(ctx)
	case StateConstruct:
		return r.processConstruct(ctx)
	case StateParameters:
		return r.processParameters(ctx)
	case StateExecute:
		return r.processExecute(ctx)
	case StateRecover:
		return r.processRecover(ctx)
	case StateFormat:
		return r.processFormat(ctx)
	default:
		return r.GetCurrentState(), false, fmt.Errorf("no handler for state %s", r.GetCurrentState())
	}
}

func (r *run) question() string {
	q, _ := GetTyped[string](r.BaseStateMachine, keyQuestion)
	return q
}

func (r *run) processIntent(ctx context.Context) (State, bool, error) {
	res, err := r.p.recognizer.Recognize(ctx, r.question())
	if err != nil {
		return StateError, false, err
	}
	SetTyped(r.BaseStateMachine, keyIntent, res)
	logx.Debug(ctx, "pipeline", "intent %s/%s conf=%.2f source=%s", res.Entity, res.Name, res.Confidence, res.Source)

	// Strong template intents skip understanding entirely.
	if res.Name != intent.GeneralQuery && res.Confidence >= r.p.cfg.IntentThreshold {
		return StateOrchestrate, false, nil
	}
	return StateUnderstand, false, nil
}

func (r *run) processUnderstand(ctx context.Context) (State, bool, error) {
	q, confidence, err := r.p.understander.Understand(ctx, r.question())
	if err != nil {
		return StateError, false, err
	}
	if err := r.p.registry.ValidateAndFix(q); err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeUnderstanding, "understand", err)
	}
	SetTyped(r.BaseStateMachine, keyQuery, q)
	SetTyped(r.BaseStateMachine, keyConfidence, confidence)
	return StateOrchestrate, false, nil
}

// processOrchestrate decides between the template fast path and full
// construction.
func (r *run) processOrchestrate(_ context.Context) (State, bool, error) {
	if _, ok := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery); ok {
		return StateConstruct, false, nil
	}

	res, ok := GetTyped[*intent.Result](r.BaseStateMachine, keyIntent)
	if !ok {
		return StateError, false, saperr.New(saperr.CodeIntent, "orchestrate", "no intent available")
	}

	url, missing, ok := intent.Expand(res, r.p.registry)
	if !ok {
		if len(missing) > 0 {
			return StateParameters, false, nil
		}
		// No template applies, fall back to full understanding.
		return StateUnderstand, false, nil
	}

	SetTyped(r.BaseStateMachine, keyURL, url)
	SetTyped(r.BaseStateMachine, keyConfidence, res.Confidence)
	return StateExecute, false, nil
}

func (r *run) processConstruct(ctx context.Context) (State, bool, error) {
	q, ok := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery)
	if !ok {
		return StateError, false, saperr.New(saperr.CodeQueryConstruction, "construct", "no structured query available")
	}

	var url string
	var err error
	resolution, resErr := r.p.timeResolver.Resolve(ctx, r.question())
	if resErr != nil {
		r.p.logger.Warn("time resolution failed: %v", resErr)
	}
	if resolution != nil {
		url, err = r.p.builder.BuildWithDateRange(q, resolution.Start, resolution.End)
	} else {
		url, err = r.p.builder.Build(q)
	}
	if err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeQueryConstruction, "construct", err)
	}

	SetTyped(r.BaseStateMachine, keyURL, url)
	return StateExecute, false, nil
}

// processParameters reports which values the user must supply. Interactive
// backfill happens outside the pipeline, so this run ends with guidance.
func (r *run) processParameters(_ context.Context) (State, bool, error) {
	res, _ := GetTyped[*intent.Result](r.BaseStateMachine, keyIntent)
	_, missing, _ := intent.Expand(res, r.p.registry)
	return StateError, false, saperr.New(saperr.CodeValidation, "parameters",
		fmt.Sprintf("missing required values: %v", missing)).
		WithDetail("missing", missing).
		WithSuggestions("include the document number or customer name in the question")
}

func (r *run) processExecute(ctx context.Context) (State, bool, error) {
	url, ok := GetTyped[string](r.BaseStateMachine, keyURL)
	if !ok {
		return StateError, false, saperr.New(saperr.CodeQueryExecution, "execute", "no URL to execute")
	}
	entity := ""
	if q, ok := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery); ok {
		entity = q.EntityType
	} else if res, ok := GetTyped[*intent.Result](r.BaseStateMachine, keyIntent); ok {
		entity = res.Entity
	}

	outcome, err := r.p.executor.Execute(ctx, url, entity)
	if err != nil {
		recovered, _ := GetTyped[bool](r.BaseStateMachine, keyRecovered)
		_, hadQuery := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery)
		if !recovered && !hadQuery {
			// The template URL failed even after corrections. One shot at the
			// full understanding path before giving up.
			SetTyped(r.BaseStateMachine, keyExecError, err.Error())
			return StateRecover, false, nil
		}
		return StateError, false, err
	}

	SetTyped(r.BaseStateMachine, keyResult, outcome.Result)
	SetTyped(r.BaseStateMachine, keyURL, outcome.FinalURL)
	if len(outcome.Corrections) > 0 {
		SetTyped(r.BaseStateMachine, keyCorrections, outcome.Corrections)
	}
	return StateFormat, false, nil
}

// processRecover retries via the full understanding path after a template URL
// failed terminally.
func (r *run) processRecover(ctx context.Context) (State, bool, error) {
	if err := r.IncrementRetry(); err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	SetTyped(r.BaseStateMachine, keyRecovered, true)
	if execErr, ok := GetTyped[string](r.BaseStateMachine, keyExecError); ok {
		logx.Debug(ctx, "pipeline", "recovering from template failure: %s", execErr)
	}

	q, confidence, err := r.p.understander.Understand(ctx, r.question())
	if err != nil {
		return StateError, false, err
	}
	if err := r.p.registry.ValidateAndFix(q); err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeUnderstanding, "understand", err)
	}
	url, err := r.p.builder.Build(q)
	if err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeQueryConstruction, "construct", err)
	}

	SetTyped(r.BaseStateMachine, keyQuery, q)
	SetTyped(r.BaseStateMachine, keyConfidence, confidence)
	SetTyped(r.BaseStateMachine, keyURL, url)
	return StateExecute, false, nil
}

func (r *run) processFormat(_ context.Context) (State, bool, error) {
	result, ok := GetTyped[*sapclient.Result](r.BaseStateMachine, keyResult)
	if !ok {
		return StateError, false, saperr.New(saperr.CodeUnknown, "format", "no result to format")
	}
	entity := ""
	if q, ok := GetTyped[*query.StructuredQuery](r.BaseStateMachine, keyQuery); ok {
		entity = q.EntityType
	} else if res, ok := GetTyped[*intent.Result](r.BaseStateMachine, keyIntent); ok {
		entity = res.Entity
	}

	text, err := r.p.formatter.Format(entity, result)
	if err != nil {
		return StateError, false, saperr.Wrap(saperr.CodeUnknown, "format", err)
	}
	SetTyped(r.BaseStateMachine, keyAnswer, text)

	// Successful runs feed the example store.
	if r.p.ops != nil {
		url, _ := GetTyped[string](r.BaseStateMachine, keyURL)
		confidence, _ := GetTyped[float64](r.BaseStateMachine, keyConfidence)
		if err := r.p.ops.StoreSuccessfulQuery(r.question(), entity, url, confidence); err != nil {
			r.p.logger.Error("failed to store successful query: %v", err)
		}
	}

	return StateDone, true, nil
}

// bumpAndMaybeAnalyze triggers error-pattern analysis every N queries or
// after the configured interval, whichever comes first.
func (p *Pipeline) bumpAndMaybeAnalyze(ctx context.Context) {
	p.mu.Lock()
	p.queryCount++
	due := (p.cfg.AnalysisEveryQueries > 0 && p.queryCount%p.cfg.AnalysisEveryQueries == 0) ||
		(p.cfg.AnalysisInterval > 0 && time.Since(p.lastAnalysis) >= p.cfg.AnalysisInterval)
	if due {
		p.lastAnalysis = time.Now()
	}
	p.mu.Unlock()

	if !due || p.ops == nil {
		return
	}

	patterns, err := p.ops.DetectRecurringErrors(time.Now().Add(-24*time.Hour), 3)
	if err != nil {
		p.logger.Error("error analysis failed: %v", err)
		return
	}
	for _, pat := range patterns {
		p.logger.Warn("recurring error (%dx, %s): %s", pat.Count, pat.Category, pat.Message)
		logx.Debug(ctx, "pipeline", "recurring error pattern: %+v", pat)
	}
}
