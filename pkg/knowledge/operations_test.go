package knowledge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOps(t *testing.T) *StoreOperations {
	t.Helper()
	require.NoError(t, Reset())
	dbPath := filepath.Join(t.TempDir(), "knowledge.db")
	require.NoError(t, Initialize(dbPath, "test-session"))
	t.Cleanup(func() { _ = Reset() })
	return Ops()
}

func TestInitializeAndSingleton(t *testing.T) {
	ops := newTestOps(t)
	assert.True(t, IsInitialized())
	assert.Equal(t, "test-session", GetSessionID())
	assert.NotNil(t, ops)

	// A second Initialize is a no-op.
	require.NoError(t, Initialize("ignored.db", "other"))
	assert.Equal(t, "test-session", GetSessionID())
}

func TestURLShape(t *testing.T) {
	a := URLShape("/Orders?$filter=CardName eq 'Maxi-Teq' and DocNum eq 10001")
	b := URLShape("/Orders?$filter=CardName eq 'Microchips' and DocNum eq 999")
	assert.Equal(t, a, b)

	c := URLShape("/Orders?$filter=DocDate ge datetime'2026-01-01T00:00:00'")
	assert.NotContains(t, c, "2026")
}

func TestStoreSuccessfulQueryBumpsUseCount(t *testing.T) {
	ops := newTestOps(t)

	require.NoError(t, ops.StoreSuccessfulQuery("open orders", "Orders", "/Orders?$filter=DocumentStatus eq bost_Open", 0.9))
	require.NoError(t, ops.StoreSuccessfulQuery("open orders", "Orders", "/Orders?$filter=DocumentStatus eq bost_Open", 0.9))

	queries, _, err := ops.SimilarQueries("open orders", "Orders", 5)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, 2, queries[0].UseCount)
}

func TestSimilarQueriesRanking(t *testing.T) {
	ops := newTestOps(t)

	require.NoError(t, ops.StoreSuccessfulQuery("show open orders for Maxi-Teq", "Orders", "/Orders?a", 0.9))
	require.NoError(t, ops.StoreSuccessfulQuery("count invoices from last month", "Invoices", "/Invoices?b", 0.9))
	require.NoError(t, ops.StoreSuccessfulQuery("completely unrelated sentence about weather", "Orders", "/Orders?c", 0.9))

	queries, scores, err := ops.SimilarQueries("open orders for Maxi-Teq", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, queries)
	assert.Equal(t, "/Orders?a", queries[0].URL)
	assert.Greater(t, scores[0], 0.5)

	for _, q := range queries {
		assert.NotEqual(t, "/Orders?c", q.URL)
	}
}

func TestSimilarQueriesEntityRestriction(t *testing.T) {
	ops := newTestOps(t)

	require.NoError(t, ops.StoreSuccessfulQuery("open orders today", "Orders", "/Orders?x", 0.9))
	require.NoError(t, ops.StoreSuccessfulQuery("open invoices today", "Invoices", "/Invoices?y", 0.9))

	queries, _, err := ops.SimilarQueries("open invoices today", "Invoices", 5)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "Invoices", queries[0].EntityType)
}

func TestCorrectionRuleLifecycle(t *testing.T) {
	ops := newTestOps(t)

	require.NoError(t, ops.SeedRule("Property 'DocStatus' of 'Document' is invalid", "DocStatus", "DocumentStatus"))
	// Seeding again is a no-op.
	require.NoError(t, ops.SeedRule("Property 'DocStatus' of 'Document' is invalid", "DocStatus", "DocumentStatus"))

	matched, err := ops.MatchRules("400: Property 'DocStatus' of 'Document' is invalid, please fix")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "DocStatus", matched[0].RewriteFrom)
	assert.False(t, matched[0].Learned)

	require.NoError(t, ops.RecordRuleOutcome(matched[0].ID, true))
	require.NoError(t, ops.RecordRuleOutcome(matched[0].ID, false))

	matched, err = ops.MatchRules("Property 'DocStatus' of 'Document' is invalid")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, 1, matched[0].SuccessCount)
	assert.Equal(t, 1, matched[0].FailureCount)

	none, err := ops.MatchRules("some unrelated error")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLearnRule(t *testing.T) {
	ops := newTestOps(t)
	require.NoError(t, ops.LearnRule("Property 'Foo' of 'Document' is invalid", "Foo", "DocNum"))

	matched, err := ops.MatchRules("Property 'Foo' of 'Document' is invalid")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.True(t, matched[0].Learned)
	assert.Equal(t, 1, matched[0].SuccessCount)
}

func TestAssessRisk(t *testing.T) {
	ops := newTestOps(t)
	url := "/Orders?$filter=DocStatus eq 'open'"

	risk, err := ops.AssessRisk(url)
	require.NoError(t, err)
	assert.Zero(t, risk)

	require.NoError(t, ops.StoreErrorExample(url, "Property 'DocStatus' of 'Document' is invalid", "invalid_property", ""))
	require.NoError(t, ops.StoreErrorExample(url, "Property 'DocStatus' of 'Document' is invalid", "invalid_property", ""))

	risk, err = ops.AssessRisk(url)
	require.NoError(t, err)
	assert.Greater(t, risk, 0.6)
}

func TestDetectRecurringErrors(t *testing.T) {
	ops := newTestOps(t)

	for range 3 {
		require.NoError(t, ops.StoreErrorExample("/Orders?x", "boom", "syntax", ""))
	}
	require.NoError(t, ops.StoreErrorExample("/Orders?y", "rare", "other", ""))

	patterns, err := ops.DetectRecurringErrors(time.Now().Add(-time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "syntax", patterns[0].Category)
	assert.Equal(t, 3, patterns[0].Count)
}

func TestPreventionStats(t *testing.T) {
	ops := newTestOps(t)

	require.NoError(t, ops.RecordPrevention("/Orders?x", "status_word", true))
	require.NoError(t, ops.RecordPrevention("/Orders?x", "status_word", false))
	require.NoError(t, ops.RecordPrevention("/Orders?y", "bare_date_literal", true))

	stats, err := ops.GetPreventionStats()
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byCode := map[string]PreventionStats{}
	for _, s := range stats {
		byCode[s.FixCode] = s
	}
	assert.Equal(t, 2, byCode["status_word"].Applied)
	assert.Equal(t, 1, byCode["status_word"].Succeeded)
}
