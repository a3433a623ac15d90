package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openidx/authrisk/internal/common/database"
	"github.com/openidx/authrisk/internal/metrics"
)

// DefaultIndex holds verdict entries
const DefaultIndex = "sign_risk_verdicts"

const verdictIndexMapping = `{
	"mappings": {
		"properties": {
			"request_id":   { "type": "keyword" },
			"timestamp":    { "type": "date" },
			"username":     { "type": "keyword" },
			"ip_address":   { "type": "ip", "ignore_malformed": true },
			"user_agent":   { "type": "text" },
			"machine_id":   { "type": "keyword" },
			"purpose":      { "type": "keyword" },
			"approved":     { "type": "boolean" },
			"status":       { "type": "keyword" },
			"overall_risk": { "type": "keyword" },
			"reason":       { "type": "text" },
			"total_weight": { "type": "integer" },
			"fail_closed":  { "type": "boolean" },
			"checks": {
				"properties": {
					"name":       { "type": "keyword" },
					"risk_level": { "type": "keyword" },
					"weight":     { "type": "integer" },
					"reason":     { "type": "text" }
				}
			},
			"hash": { "type": "keyword", "index": false }
		}
	}
}`

// ElasticsearchRecorder indexes entries with the request id as document id,
// so a retried write replaces rather than duplicates.
type ElasticsearchRecorder struct {
	es     *database.ElasticsearchClient
	index  string
	logger *zap.Logger
}

// NewElasticsearchRecorder creates a recorder. An empty index selects DefaultIndex.
func NewElasticsearchRecorder(es *database.ElasticsearchClient, index string, logger *zap.Logger) *ElasticsearchRecorder {
	if index == "" {
		index = DefaultIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElasticsearchRecorder{
		es:     es,
		index:  index,
		logger: logger.With(zap.String("component", "verdict-audit"), zap.String("index", index)),
	}
}

// Name returns the sink name
func (r *ElasticsearchRecorder) Name() string { return "elasticsearch" }

// EnsureIndex creates the verdict index if it does not exist
func (r *ElasticsearchRecorder) EnsureIndex(ctx context.Context) error {
	if err := r.es.EnsureIndex(ctx, r.index, verdictIndexMapping); err != nil {
		r.logger.Warn("Failed to ensure verdict index", zap.Error(err))
		return err
	}
	r.logger.Info("Verdict index ready")
	return nil
}

// Record indexes e
func (r *ElasticsearchRecorder) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal verdict entry: %w", err)
	}
	err = r.es.Index(ctx, r.index, e.RequestID, data)
	metrics.RecordAuditWrite(r.Name(), err)
	return err
}

// Query filters a verdict search. Zero values are ignored.
type Query struct {
	Username  string
	IPAddress string
	Status    string
	RequestID string
	From      time.Time
	To        time.Time
	Size      int
}

const maxSearchSize = 500

// Body builds the Elasticsearch query DSL for q, newest entries first
func (q Query) Body() map[string]interface{} {
	filter := []map[string]interface{}{}
	term := func(field, value string) {
		if value != "" {
			filter = append(filter, map[string]interface{}{
				"term": map[string]interface{}{field: value},
			})
		}
	}
	term("request_id", q.RequestID)
	term("username", q.Username)
	term("ip_address", q.IPAddress)
	term("status", q.Status)

	timeRange := map[string]interface{}{}
	if !q.From.IsZero() {
		timeRange["gte"] = q.From.UTC().Format(time.RFC3339)
	}
	if !q.To.IsZero() {
		timeRange["lte"] = q.To.UTC().Format(time.RFC3339)
	}
	if len(timeRange) > 0 {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"timestamp": timeRange},
		})
	}

	size := q.Size
	if size <= 0 {
		size = 50
	}
	if size > maxSearchSize {
		size = maxSearchSize
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   []map[string]interface{}{{"match_all": map[string]interface{}{}}},
				"filter": filter,
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}
}

// Search returns matching entries and the total hit count
func (r *ElasticsearchRecorder) Search(ctx context.Context, q Query) ([]Entry, int, error) {
	query, err := json.Marshal(q.Body())
	if err != nil {
		return nil, 0, err
	}
	body, err := r.es.Search(ctx, r.index, bytes.NewReader(query))
	if err != nil {
		return nil, 0, err
	}

	var resp database.EsSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("parse search results: %w", err)
	}

	entries := make([]Entry, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var e Entry
		if err := json.Unmarshal(hit.Source, &e); err != nil {
			r.logger.Warn("Skipping unreadable verdict entry", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, resp.Hits.Total.Value, nil
}
