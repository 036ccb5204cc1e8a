package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/knowledge"
	"sapassist/pkg/sapclient"
	"sapassist/pkg/saperr"
)

type scriptedGetter struct {
	// fail maps a URL to the error it returns; other URLs succeed.
	fail map[string]error
	urls []string
}

func (g *scriptedGetter) Get(_ context.Context, url string) (*sapclient.Result, error) {
	g.urls = append(g.urls, url)
	if err, ok := g.fail[url]; ok {
		return nil, err
	}
	return &sapclient.Result{Records: []map[string]any{{"DocNum": 1}}}, nil
}

type stubResolver struct {
	fields map[string]string
}

func (r *stubResolver) CanonicalField(_, field string) (string, bool) {
	canonical, ok := r.fields[field]
	return canonical, ok
}

func newTestOps(t *testing.T) *knowledge.StoreOperations {
	t.Helper()
	require.NoError(t, knowledge.Reset())
	require.NoError(t, knowledge.Initialize(filepath.Join(t.TempDir(), "k.db"), "test"))
	t.Cleanup(func() { _ = knowledge.Reset() })
	return knowledge.Ops()
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	ops := newTestOps(t)
	getter := &scriptedGetter{}
	e := New(getter, ops, nil, nil, 2, 0.5)

	outcome, err := e.Execute(context.Background(), "/Orders?$top=5", "Orders")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Empty(t, outcome.Corrections)
	assert.Equal(t, "/Orders?$top=5", outcome.FinalURL)
	require.NotNil(t, outcome.Result)
	assert.Len(t, outcome.Result.Records, 1)
}

func TestExecuteAppliesSeededRule(t *testing.T) {
	ops := newTestOps(t)
	require.NoError(t, SeedCorrectionRules(ops))

	bad := "/Orders?$filter=DocStatus eq bost_Open"
	getter := &scriptedGetter{fail: map[string]error{
		bad: errors.New("Property 'DocStatus' of 'Document' is invalid"),
	}}
	e := New(getter, ops, nil, nil, 2, 0.5)

	outcome, err := e.Execute(context.Background(), bad, "Orders")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, []string{"static"}, outcome.Corrections)
	assert.Equal(t, "/Orders?$filter=DocumentStatus eq bost_Open", outcome.FinalURL)

	// The successful outcome bumps the rule's success counter.
	rules, err := ops.MatchRules("Property 'DocStatus' of 'Document' is invalid")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].SuccessCount)
}

func TestExecuteDerivesRuleFromSchema(t *testing.T) {
	ops := newTestOps(t)

	bad := "/Orders?$filter=Total gt 100"
	getter := &scriptedGetter{fail: map[string]error{
		bad: errors.New("Property 'Total' of 'Document' is invalid"),
	}}
	resolver := &stubResolver{fields: map[string]string{"Total": "DocTotal"}}
	e := New(getter, ops, resolver, nil, 2, 0.5)

	outcome, err := e.Execute(context.Background(), bad, "Orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"derived"}, outcome.Corrections)
	assert.Equal(t, "/Orders?$filter=DocTotal gt 100", outcome.FinalURL)

	// The derived rename was stored as a learned rule.
	rules, err := ops.MatchRules("Property 'Total' of 'Document' is invalid")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Learned)
	assert.Equal(t, "DocTotal", rules[0].RewriteTo)
}

func TestExecuteFallsBackToValidatorFix(t *testing.T) {
	ops := newTestOps(t)

	// Warning-level issues survive preflight when the URL has no failure
	// history, so the validator fix happens in the correction loop.
	bad := "/Orders?$filter=DocNum eq 10001&$inlinecount=allpages"
	getter := &scriptedGetter{fail: map[string]error{
		bad: errors.New("query option not supported"),
	}}
	e := New(getter, ops, nil, nil, 2, 0.5)

	outcome, err := e.Execute(context.Background(), bad, "Orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"validator:inlinecount_syntax"}, outcome.Corrections)
	assert.Equal(t, "/Orders?$filter=DocNum eq 10001&$count=true", outcome.FinalURL)
}

func TestExecuteNoCorrectionAvailable(t *testing.T) {
	ops := newTestOps(t)

	url := "/Orders?$filter=DocNum eq 10001"
	getter := &scriptedGetter{fail: map[string]error{
		url: errors.New("internal server error"),
	}}
	e := New(getter, ops, nil, nil, 3, 0.5)

	_, err := e.Execute(context.Background(), url, "Orders")
	require.Error(t, err)
	assert.Equal(t, saperr.CodeQueryExecution, saperr.CodeOf(err))
	assert.Len(t, getter.urls, 1)
}

func TestExecuteRetriesExhausted(t *testing.T) {
	ops := newTestOps(t)
	require.NoError(t, SeedCorrectionRules(ops))

	url := "/Orders?$filter=DocStatus eq bost_Open"
	getter := &scriptedGetter{fail: map[string]error{
		url: errors.New("Property 'DocStatus' of 'Document' is invalid"),
	}}
	e := New(getter, ops, nil, nil, 0, 0.5)

	_, err := e.Execute(context.Background(), url, "Orders")
	require.Error(t, err)
	assert.Len(t, getter.urls, 1)
}

func TestPreflightFixesErrorIssues(t *testing.T) {
	ops := newTestOps(t)
	getter := &scriptedGetter{}
	e := New(getter, ops, nil, nil, 2, 0.5)

	outcome, err := e.Execute(context.Background(), "/Orders?$filter=DocumentStatus eq 'open'", "Orders")
	require.NoError(t, err)
	assert.Contains(t, outcome.Preventions, "status_word")
	assert.Equal(t, "/Orders?$filter=DocumentStatus eq bost_Open", outcome.FinalURL)
	assert.Equal(t, 1, outcome.Attempts)

	// Prevention outcomes land in the stats table.
	stats, err := ops.GetPreventionStats()
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	assert.Equal(t, "status_word", stats[0].FixCode)
	assert.Equal(t, 1, stats[0].Succeeded)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Property 'DocStatus' of 'Document' is invalid", "invalid_property"},
		{"Resource not found for the segment 'Foo'", "not_found"},
		{"401 unauthorized", "auth"},
		{"context deadline exceeded", "timeout"},
		{"malformed query", "syntax"},
		{"mystery", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorize(errors.New(tt.msg)), tt.msg)
	}
}
