package search

import (
	"context"

	"github.com/charmbracelet/log"

	"pressroom/api/internal/logging"
	"pressroom/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// store's own search. Both backends are optional except the fallback.
type Service struct {
	meili    *Meili
	fallback Searcher
	cache    *ResultCache
	logger   *log.Logger
}

// NewService creates a search service. meili and cache may be nil.
func NewService(meili *Meili, fallback Searcher, cache *ResultCache, logger *log.Logger) *Service {
	return &Service{
		meili:    meili,
		fallback: fallback,
		cache:    cache,
		logger:   logging.Component(logger, "search"),
	}
}

// Search returns up to limit candidates from the first backend that answers.
// Only a fallback failure is returned; Meilisearch and cache errors are
// logged and skipped.
func (s *Service) Search(ctx context.Context, collection, field, pattern string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	cacheable := false
	var version int64
	if s.cache != nil {
		records, v, ok, err := s.cache.Get(ctx, collection, field, pattern, limit)
		switch {
		case err != nil:
			s.logger.Warn("search cache read failed", "collection", collection, "err", err)
		case ok:
			return records, nil
		default:
			cacheable, version = true, v
		}
	}

	records, err := s.search(ctx, collection, field, pattern, limit)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.Put(ctx, collection, version, field, pattern, limit, records); err != nil {
			s.logger.Warn("search cache write failed", "collection", collection, "err", err)
		}
	}
	return records, nil
}

func (s *Service) search(ctx context.Context, collection, field, pattern string, limit int) ([]store.Record, error) {
	if s.meili != nil && s.meili.Healthy() && s.meili.Serves(collection, field) {
		records, err := s.meili.Search(ctx, collection, field, pattern, limit)
		if err == nil {
			return nonNil(records), nil
		}
		s.logger.Warn("meilisearch error, falling back to store", "collection", collection, "err", err)
	}

	records, err := s.fallback.Search(ctx, collection, field, pattern, limit)
	if err != nil {
		return nil, err
	}
	return nonNil(records), nil
}

// RecordsChanged makes later searches see a write: cached results for the
// collection are invalidated and the records are indexed in the background.
func (s *Service) RecordsChanged(ctx context.Context, collection string, records ...store.Record) {
	s.invalidate(ctx, collection)
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexRecords(collection, records); err != nil {
			s.logger.Warn("index records", "collection", collection, "records", len(records), "err", err)
		}
	}()
}

// RecordsDeleted is RecordsChanged for deletions.
func (s *Service) RecordsDeleted(ctx context.Context, collection string, ids ...string) {
	s.invalidate(ctx, collection)
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteRecords(collection, ids); err != nil {
			s.logger.Warn("delete indexed records", "collection", collection, "records", len(ids), "err", err)
		}
	}()
}

func (s *Service) invalidate(ctx context.Context, collection string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, collection); err != nil {
		s.logger.Warn("search cache invalidation failed", "collection", collection, "err", err)
	}
}

// Reindex pushes a full collection snapshot to Meilisearch. Called after the
// first synchronization so the index matches the store.
func (s *Service) Reindex(collection string, records []store.Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexRecords(collection, records); err != nil {
		s.logger.Warn("reindex failed", "collection", collection, "err", err)
		return
	}
	s.logger.Info("reindexed collection", "collection", collection, "records", len(records))
}

// Health reports the optional backends for the readiness endpoint.
func (s *Service) Health(ctx context.Context) map[string]string {
	out := map[string]string{
		"meilisearch": "disabled",
		"redis":       "disabled",
	}
	if s.meili != nil {
		out["meilisearch"] = healthWord(s.meili.Healthy())
	}
	if s.cache != nil {
		out["redis"] = healthWord(s.cache.Ping(ctx) == nil)
	}
	return out
}

func healthWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}

// Close releases the optional backends.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}
