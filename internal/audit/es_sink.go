package audit

import (
	"context"
	"fmt"
)

type DocumentStore interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error
}

// ElasticsearchSink indexes events for lookup by moderators.
type ElasticsearchSink struct {
	store DocumentStore
	index string
}

func NewElasticsearchSink(store DocumentStore, index string) *ElasticsearchSink {
	return &ElasticsearchSink{store: store, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, ev Event) error {
	return s.store.IndexDocument(ctx, s.index, ev.ID, ev)
}

type searchResult struct {
	Hits struct {
		Hits []struct {
			Source Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// RecentForUser returns up to limit of userID's latest commands, newest first.
func (s *ElasticsearchSink) RecentForUser(ctx context.Context, userID int64, limit int) ([]Event, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		},
		"sort": []interface{}{
			map[string]interface{}{"at": map[string]interface{}{"order": "desc"}},
		},
	}

	var res searchResult
	if err := s.store.Search(ctx, s.index, query, &res); err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}

	events := make([]Event, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		events = append(events, h.Source)
	}
	return events, nil
}
