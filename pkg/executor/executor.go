// Package executor runs Service Layer URLs with preflight validation,
// risk-based preventive fixes, and an error-driven correction loop.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sapassist/pkg/knowledge"
	"sapassist/pkg/logx"
	"sapassist/pkg/metrics"
	"sapassist/pkg/odata"
	"sapassist/pkg/sapclient"
	"sapassist/pkg/saperr"
)

// SAPGetter is the slice of the Service Layer client the executor needs.
type SAPGetter interface {
	Get(ctx context.Context, url string) (*sapclient.Result, error)
}

// FieldResolver resolves field names against a schema. Satisfied by
// registry.Registry.
type FieldResolver interface {
	CanonicalField(entity, field string) (string, bool)
}

// Outcome describes a finished execution, including how the URL was repaired
// along the way.
type Outcome struct {
	Result      *sapclient.Result
	FinalURL    string
	Preventions []string // Validator fix codes applied before execution
	Corrections []string // Rule rewrites applied after errors
	Attempts    int
}

// Executor executes URLs against the Service Layer.
type Executor struct {
	client        SAPGetter
	ops           *knowledge.StoreOperations
	fields        FieldResolver
	validator     *odata.Validator
	recorder      *metrics.Recorder
	logger        *logx.Logger
	maxRetries    int
	riskThreshold float64
}

// New creates an executor. recorder may be nil when metrics are disabled.
func New(client SAPGetter, ops *knowledge.StoreOperations, fields FieldResolver, recorder *metrics.Recorder, maxRetries int, riskThreshold float64) *Executor {
	return &Executor{
		client:        client,
		ops:           ops,
		fields:        fields,
		validator:     odata.NewValidator(),
		recorder:      recorder,
		logger:        logx.NewLogger("executor"),
		maxRetries:    maxRetries,
		riskThreshold: riskThreshold,
	}
}

// reInvalidProperty extracts the offending field from the Service Layer's
// "Property 'X' of 'Y' is invalid" message.
//
//nolint:gochecknoglobals // Static pattern compiled once
var reInvalidProperty = regexp.MustCompile(`Property '(\w+)' of '(\w+)' is invalid`)

// Execute runs the URL, applying preventive fixes first and correction rules
// after failures, up to maxRetries corrections.
func (e *Executor) Execute(ctx context.Context, url, entity string) (*Outcome, error) {
	outcome := &Outcome{FinalURL: url}

	current := e.preflight(url, outcome)

	var appliedRuleIDs []string
	for attempt := 0; ; attempt++ {
		outcome.Attempts = attempt + 1
		start := time.Now()

		result, err := e.client.Get(ctx, current)
		if err == nil {
			e.settle(current, appliedRuleIDs, outcome, true)
			outcome.Result = result
			outcome.FinalURL = current
			logx.Debug(ctx, "executor", "executed %s in %s (attempt %d)", current, time.Since(start), attempt+1)
			return outcome, nil
		}

		e.logger.Warn("execution failed (attempt %d): %v", attempt+1, err)
		if storeErr := e.ops.StoreErrorExample(current, err.Error(), categorize(err), ""); storeErr != nil {
			e.logger.Error("failed to store error example: %v", storeErr)
		}

		if attempt >= e.maxRetries {
			e.settle(current, appliedRuleIDs, outcome, false)
			return outcome, saperr.Wrap(saperr.CodeQueryExecution, "execute", err).
				WithDetail("url", current).
				WithDetail("attempts", attempt+1).
				WithSuggestions("rephrase the question", "name the document type explicitly")
		}

		next, ruleID, origin, corrErr := e.correct(current, entity, err)
		if corrErr != nil {
			e.settle(current, appliedRuleIDs, outcome, false)
			return outcome, saperr.Wrap(saperr.CodeQueryExecution, "execute", err).
				WithDetail("url", current).
				WithDetail("correction", corrErr.Error())
		}

		e.logger.Info("correction (%s): %s -> %s", origin, current, next)
		outcome.Corrections = append(outcome.Corrections, origin)
		if ruleID != "" {
			appliedRuleIDs = append(appliedRuleIDs, ruleID)
		}
		current = next
	}
}

// preflight validates the URL and applies automatic fixes. Fixes for
// error-severity issues always apply; warning-level fixes apply only when the
// URL shape has a failure history above the risk threshold.
func (e *Executor) preflight(url string, outcome *Outcome) string {
	issues := e.validator.Validate(url)
	if len(issues) == 0 {
		return url
	}

	apply := odata.HasErrors(issues)
	if !apply {
		risk, err := e.ops.AssessRisk(url)
		if err != nil {
			e.logger.Error("risk assessment failed: %v", err)
		}
		apply = risk > e.riskThreshold
		if apply {
			e.logger.Info("risk %.2f above threshold, applying preventive fixes", risk)
		}
	}
	if !apply {
		return url
	}

	fixed, codes := e.validator.Fix(url)
	if fixed == url {
		return url
	}
	e.logger.Info("preflight fixed URL: %s -> %s (%s)", url, fixed, strings.Join(codes, ","))
	outcome.Preventions = append(outcome.Preventions, codes...)
	return fixed
}

// correct picks the next URL after a failure: stored rules first, then a
// field rename derived from the error message, then validator fixes.
func (e *Executor) correct(url, entity string, execErr error) (next, ruleID, origin string, err error) {
	msg := execErr.Error()

	rules, matchErr := e.ops.MatchRules(msg)
	if matchErr != nil {
		e.logger.Error("rule matching failed: %v", matchErr)
	}
	for _, r := range rules {
		if !strings.Contains(url, r.RewriteFrom) {
			continue
		}
		rewritten := strings.ReplaceAll(url, r.RewriteFrom, r.RewriteTo)
		if rewritten != url {
			origin = "static"
			if r.Learned {
				origin = "learned"
			}
			return rewritten, r.ID, origin, nil
		}
	}

	if m := reInvalidProperty.FindStringSubmatch(msg); m != nil && e.fields != nil {
		if canonical, ok := e.fields.CanonicalField(entity, m[1]); ok && canonical != m[1] && strings.Contains(url, m[1]) {
			rewritten := strings.ReplaceAll(url, m[1], canonical)
			if lrnErr := e.ops.LearnRule(m[0], m[1], canonical); lrnErr != nil {
				e.logger.Error("failed to learn rule: %v", lrnErr)
			}
			return rewritten, "", "derived", nil
		}
	}

	fixed, codes := e.validator.Fix(url)
	if fixed != url {
		return fixed, "", "validator:" + strings.Join(codes, ","), nil
	}

	return "", "", "", fmt.Errorf("%w: %s", saperr.ErrNoCorrection, msg)
}

// settle records outcomes for every rule and prevention applied in this run.
func (e *Executor) settle(url string, ruleIDs []string, outcome *Outcome, success bool) {
	for _, id := range ruleIDs {
		if err := e.ops.RecordRuleOutcome(id, success); err != nil {
			e.logger.Error("failed to record rule outcome: %v", err)
		}
	}
	for _, origin := range outcome.Corrections {
		if e.recorder != nil {
			e.recorder.ObserveCorrection(originLabel(origin), success)
		}
	}
	for _, code := range outcome.Preventions {
		if err := e.ops.RecordPrevention(url, code, success); err != nil {
			e.logger.Error("failed to record prevention: %v", err)
		}
		if e.recorder != nil {
			e.recorder.ObservePrevention(code, success)
		}
	}
}

func originLabel(origin string) string {
	if strings.HasPrefix(origin, "validator:") {
		return "validator"
	}
	return origin
}

// categorize buckets an execution error for pattern mining.
func categorize(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is invalid"):
		return "invalid_property"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return "not_found"
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "session"):
		return "auth"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "syntax") || strings.Contains(msg, "malformed") || strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return "syntax"
	default:
		return "other"
	}
}
