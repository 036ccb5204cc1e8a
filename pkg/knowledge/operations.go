package knowledge

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SuccessfulQuery is a recorded NL question with its working URL.
type SuccessfulQuery struct {
	ID         string
	Question   string
	EntityType string
	URL        string
	Confidence float64
	UseCount   int
	CreatedAt  time.Time
}

// CorrectionRule rewrites a failing URL when its error pattern matches.
type CorrectionRule struct {
	ID           string
	ErrorPattern string // Substring matched against the error message
	RewriteFrom  string
	RewriteTo    string
	Learned      bool
	SuccessCount int
	FailureCount int
}

// ErrorPattern is a recurring error aggregate.
type ErrorPattern struct {
	Category string
	Message  string
	Count    int
}

// PreventionStats aggregates preventive-fix outcomes per fix code.
type PreventionStats struct {
	FixCode   string
	Applied   int
	Succeeded int
}

// StoreOperations provides methods over the knowledge store.
type StoreOperations struct {
	db        *sql.DB
	sessionID string
}

// NewStoreOperations creates a StoreOperations instance.
func NewStoreOperations(db *sql.DB, sessionID string) *StoreOperations {
	return &StoreOperations{db: db, sessionID: sessionID}
}

//nolint:gochecknoglobals // URL shape normalization patterns
var (
	reShapeValues = regexp.MustCompile(`'[^']*'|datetime'[^']*'|\b\d+\b`)
	reShapeSpaces = regexp.MustCompile(`\s+`)
)

// URLShape normalizes a URL into a comparable shape: literal values are
// blanked so structurally equal queries collide.
func URLShape(url string) string {
	shape := reShapeValues.ReplaceAllString(url, "?")
	return reShapeSpaces.ReplaceAllString(shape, " ")
}

// StoreSuccessfulQuery records a working question/URL pair, bumping the use
// counter when the same pair exists.
func (ops *StoreOperations) StoreSuccessfulQuery(question, entityType, url string, confidence float64) error {
	var existingID string
	err := ops.db.QueryRow(
		`SELECT id FROM successful_queries WHERE question = ? AND url = ?`,
		question, url,
	).Scan(&existingID)

	switch {
	case err == nil:
		_, err = ops.db.Exec(
			`UPDATE successful_queries SET use_count = use_count + 1, last_used_at = CURRENT_TIMESTAMP WHERE id = ?`,
			existingID,
		)
		if err != nil {
			return fmt.Errorf("failed to bump successful query: %w", err)
		}
		return nil
	case err == sql.ErrNoRows:
		_, err = ops.db.Exec(
			`INSERT INTO successful_queries (id, session_id, question, entity_type, url, confidence)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), ops.sessionID, question, entityType, url, confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to store successful query: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up successful query: %w", err)
	}
}

// tokenize lowercases and splits a question for overlap scoring.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?'\"")
		if len(tok) > 2 {
			tokens[tok] = true
		}
	}
	return tokens
}

// similarity is the Jaccard overlap of question tokens.
func similarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	common := 0
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}
	union := len(ta) + len(tb) - common
	return float64(common) / float64(union)
}

// scored pairs a stored query with its similarity to the probe question.
type scored struct {
	query SuccessfulQuery
	score float64
}

// SimilarQueries returns up to limit stored queries most similar to
// question, optionally restricted to an entity type. Only matches scoring
// above 0.2 are returned.
func (ops *StoreOperations) SimilarQueries(question, entityType string, limit int) ([]SuccessfulQuery, []float64, error) {
	q := `SELECT id, question, entity_type, url, confidence, use_count, created_at FROM successful_queries`
	args := []any{}
	if entityType != "" {
		q += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	q += ` ORDER BY use_count DESC LIMIT 500`

	rows, err := ops.db.Query(q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query successful queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []scored
	for rows.Next() {
		var sq SuccessfulQuery
		if err := rows.Scan(&sq.ID, &sq.Question, &sq.EntityType, &sq.URL, &sq.Confidence, &sq.UseCount, &sq.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan successful query: %w", err)
		}
		if score := similarity(question, sq.Question); score > 0.2 {
			candidates = append(candidates, scored{query: sq, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration failed: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	queries := make([]SuccessfulQuery, len(candidates))
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		queries[i] = c.query
		scores[i] = c.score
	}
	return queries, scores, nil
}

// StoreErrorExample records a failed URL with its error for pattern mining.
func (ops *StoreOperations) StoreErrorExample(url, errorMessage, category, resolvedBy string) error {
	_, err := ops.db.Exec(
		`INSERT INTO error_examples (id, session_id, url, url_shape, error_message, category, resolved_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ops.sessionID, url, URLShape(url), errorMessage, category, nullable(resolvedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to store error example: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SeedRule inserts a correction rule if it does not exist.
func (ops *StoreOperations) SeedRule(errorPattern, rewriteFrom, rewriteTo string) error {
	_, err := ops.db.Exec(
		`INSERT OR IGNORE INTO correction_rules (id, error_pattern, rewrite_from, rewrite_to, learned)
		 VALUES (?, ?, ?, ?, 0)`,
		uuid.NewString(), errorPattern, rewriteFrom, rewriteTo,
	)
	if err != nil {
		return fmt.Errorf("failed to seed correction rule: %w", err)
	}
	return nil
}

// LearnRule inserts a rule discovered at runtime.
func (ops *StoreOperations) LearnRule(errorPattern, rewriteFrom, rewriteTo string) error {
	_, err := ops.db.Exec(
		`INSERT OR IGNORE INTO correction_rules (id, error_pattern, rewrite_from, rewrite_to, learned, success_count)
		 VALUES (?, ?, ?, ?, 1, 1)`,
		uuid.NewString(), errorPattern, rewriteFrom, rewriteTo,
	)
	if err != nil {
		return fmt.Errorf("failed to learn correction rule: %w", err)
	}
	return nil
}

// MatchRules returns rules whose error pattern occurs in errorMessage,
// most successful first.
func (ops *StoreOperations) MatchRules(errorMessage string) ([]CorrectionRule, error) {
	rows, err := ops.db.Query(
		`SELECT id, error_pattern, rewrite_from, rewrite_to, learned, success_count, failure_count
		 FROM correction_rules ORDER BY success_count DESC, failure_count ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []CorrectionRule
	for rows.Next() {
		var r CorrectionRule
		var learned int
		if err := rows.Scan(&r.ID, &r.ErrorPattern, &r.RewriteFrom, &r.RewriteTo, &learned, &r.SuccessCount, &r.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan correction rule: %w", err)
		}
		r.Learned = learned == 1
		if strings.Contains(errorMessage, r.ErrorPattern) {
			matched = append(matched, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return matched, nil
}

// RecordRuleOutcome bumps the success or failure counter of a rule.
func (ops *StoreOperations) RecordRuleOutcome(ruleID string, success bool) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}
	//nolint:gosec // column is one of two constants above
	_, err := ops.db.Exec(
		fmt.Sprintf(`UPDATE correction_rules SET %s = %s + 1 WHERE id = ?`, column, column),
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to record rule outcome: %w", err)
	}
	return nil
}

// AssessRisk scores how often URLs of this shape have failed: failures over
// total observations. Shapes never seen score zero.
func (ops *StoreOperations) AssessRisk(url string) (float64, error) {
	shape := URLShape(url)

	var failures int
	if err := ops.db.QueryRow(
		`SELECT COUNT(*) FROM error_examples WHERE url_shape = ?`, shape,
	).Scan(&failures); err != nil {
		return 0, fmt.Errorf("failed to count error examples: %w", err)
	}
	if failures == 0 {
		return 0, nil
	}

	var successes int
	if err := ops.db.QueryRow(
		`SELECT COUNT(*) FROM successful_queries WHERE url = ?`, url,
	).Scan(&successes); err != nil {
		return 0, fmt.Errorf("failed to count successful queries: %w", err)
	}

	return float64(failures) / float64(failures+successes+1), nil
}

// DetectRecurringErrors aggregates error examples since the given time and
// returns categories seen at least minCount times.
func (ops *StoreOperations) DetectRecurringErrors(since time.Time, minCount int) ([]ErrorPattern, error) {
	rows, err := ops.db.Query(
		`SELECT category, error_message, COUNT(*) AS n
		 FROM error_examples
		 WHERE created_at >= ?
		 GROUP BY category, error_message
		 HAVING n >= ?
		 ORDER BY n DESC`,
		since.UTC(), minCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query error patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		if err := rows.Scan(&p.Category, &p.Message, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return patterns, nil
}

// RecordPrevention records a preventive-fix application and its outcome.
func (ops *StoreOperations) RecordPrevention(url, fixCode string, succeeded bool) error {
	flag := 0
	if succeeded {
		flag = 1
	}
	_, err := ops.db.Exec(
		`INSERT INTO prevention_events (id, url_shape, fix_code, succeeded) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), URLShape(url), fixCode, flag,
	)
	if err != nil {
		return fmt.Errorf("failed to record prevention event: %w", err)
	}
	return nil
}

// GetPreventionStats aggregates prevention outcomes per fix code.
func (ops *StoreOperations) GetPreventionStats() ([]PreventionStats, error) {
	rows, err := ops.db.Query(
		`SELECT fix_code, COUNT(*), SUM(succeeded) FROM prevention_events GROUP BY fix_code`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prevention stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []PreventionStats
	for rows.Next() {
		var s PreventionStats
		if err := rows.Scan(&s.FixCode, &s.Applied, &s.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan prevention stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return stats, nil
}
