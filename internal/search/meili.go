package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"

	"pressroom/api/internal/logging"
	"pressroom/api/internal/store"
)

const (
	indexPrefix = "pressroom_"

	keyID        = "id"
	keyCreatedAt = "createdAt"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili keeps one index per collection, searchable on its title field.
type Meili struct {
	client      meili.ServiceManager
	collections map[string]store.Collection
	logger      *log.Logger
	healthy     atomic.Bool
	done        chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not an error: the client reports unhealthy until the
// background health loop sees it recover.
func NewMeili(url, apiKey string, collections []store.Collection, logger *log.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:      client,
		collections: make(map[string]store.Collection, len(collections)),
		logger:      logging.Component(logger, "search"),
		done:        make(chan struct{}),
	}
	for _, c := range collections {
		m.collections[c.Name] = c
	}

	if _, err := client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func indexUID(collection string) string {
	return indexPrefix + collection
}

func (m *Meili) configureIndexes() {
	for _, c := range m.collections {
		uid := indexUID(c.Name)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: keyID,
		}); err != nil {
			m.logger.Debug("create index (may already exist)", "index", uid, "err", err)
		}

		searchable := []string{c.TitleField}
		if _, err := m.client.Index(uid).UpdateSearchableAttributes(&searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", uid, "err", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Serves reports whether field is the indexed title field of collection.
func (m *Meili) Serves(collection, field string) bool {
	c, ok := m.collections[collection]
	return ok && c.TitleField == field
}

// Search runs the words of pattern as a full-text query on the collection's
// index.
func (m *Meili) Search(_ context.Context, collection, field, pattern string, limit int) ([]store.Record, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}
	if !m.Serves(collection, field) {
		return nil, fmt.Errorf("meilisearch: %s.%s is not indexed", collection, field)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: indexUID(collection),
			Query:    queryText(pattern),
			Limit:    int64(limit),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var records []store.Record
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			records = append(records, hitToRecord(hit))
		}
	}
	return records, nil
}

func hitToRecord(hit meili.Hit) store.Record {
	r := store.Record{Fields: map[string]any{}}
	for key, raw := range hit {
		switch {
		case key == keyID:
			_ = json.Unmarshal(raw, &r.ID)
		case key == keyCreatedAt:
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				r.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
			}
		case strings.HasPrefix(key, "_"):
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err == nil {
				r.Fields[key] = value
			}
		}
	}
	return r
}

func recordToDocument(r store.Record) map[string]any {
	doc := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[keyID] = r.ID
	doc[keyCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	return doc
}

// IndexRecords adds or replaces records in the collection's index.
func (m *Meili) IndexRecords(collection string, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]map[string]any, 0, len(records))
	for _, r := range records {
		docs = append(docs, recordToDocument(r))
	}
	_, err := m.client.Index(indexUID(collection)).AddDocuments(docs, nil)
	return err
}

// DeleteRecords removes records from the collection's index.
func (m *Meili) DeleteRecords(collection string, ids []string) error {
	index := m.client.Index(indexUID(collection))
	var errs []error
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
