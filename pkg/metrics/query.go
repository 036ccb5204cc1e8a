package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionMetrics represents aggregated metrics for an assistant session.
type SessionMetrics struct {
	QueriesTotal     int64   `json:"queries_total"`
	QueriesFailed    int64   `json:"queries_failed"`
	CorrectionsTotal int64   `json:"corrections_total"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
}

// QueryService provides methods to query aggregated metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

func (q *QueryService) scalar(ctx context.Context, promQL string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, promQL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}

// GetSessionMetrics retrieves aggregated query and token metrics.
func (q *QueryService) GetSessionMetrics(ctx context.Context) (*SessionMetrics, error) {
	metrics := &SessionMetrics{}
	var err error

	if metrics.QueriesTotal, err = q.scalar(ctx, `sum(sap_queries_total)`); err != nil {
		return nil, err
	}
	if metrics.QueriesFailed, err = q.scalar(ctx, `sum(sap_queries_total{status="error"})`); err != nil {
		return nil, err
	}
	if metrics.CorrectionsTotal, err = q.scalar(ctx, `sum(sap_corrections_total)`); err != nil {
		return nil, err
	}
	if metrics.PromptTokens, err = q.scalar(ctx, `sum(llm_tokens_total{type="prompt"})`); err != nil {
		return nil, err
	}
	if metrics.CompletionTokens, err = q.scalar(ctx, `sum(llm_tokens_total{type="completion"})`); err != nil {
		return nil, err
	}
	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	return metrics, nil
}

// GetTokensByModel returns token totals broken down by model.
func (q *QueryService) GetTokensByModel(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (model) (llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}

	totals := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				totals[string(name)] = int64(sample.Value)
			}
		}
	}
	return totals, nil
}
