package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"pressroom/api/internal/cache"
	"pressroom/api/internal/config"
	"pressroom/api/internal/dedupe"
	"pressroom/api/internal/logging"
	"pressroom/api/internal/similarity"
	"pressroom/api/internal/store"
)

type CreateRecordInput struct {
	ID     string         `json:"id" validate:"omitempty,max=64,recordid"`
	Fields map[string]any `json:"fields" validate:"required"`
}

type UpdateRecordInput struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

type DeleteRecordsInput struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required"`
}

// DuplicateCheckInput asks for a debounced duplicate check. A missing
// threshold uses the configured one; an explicit 0 reports every candidate.
type DuplicateCheckInput struct {
	Key        string   `json:"key" validate:"required,max=200"`
	Title      string   `json:"title" validate:"max=1000"`
	Collection string   `json:"collection" validate:"required"`
	TitleField string   `json:"titleField" validate:"omitempty,fieldname"`
	Threshold  *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

type SimilarInput struct {
	Collection string   `json:"collection" validate:"required"`
	Field      string   `json:"field" validate:"omitempty,fieldname"`
	Value      string   `json:"value" validate:"required,max=1000"`
	Threshold  *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

type SimilarMatch struct {
	Record store.Record `json:"record"`
	Score  float64      `json:"score"`
}

type writeStore interface {
	Insert(ctx context.Context, collection string, record store.Record) (store.Record, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (store.Record, error)
	DeleteMany(ctx context.Context, collection string, ids []string) (int, error)
	Ping(ctx context.Context) error
}

// searchIndex is told about every write so candidate searches stay current.
type searchIndex interface {
	RecordsChanged(ctx context.Context, collection string, records ...store.Record)
	RecordsDeleted(ctx context.Context, collection string, ids ...string)
	Reindex(collection string, records []store.Record)
	Health(ctx context.Context) map[string]string
}

type Service struct {
	cfg    config.Config
	store  writeStore
	cache  *cache.Manager
	gate   *dedupe.Gate
	search searchIndex
	logger *log.Logger
}

// New wires the service. searchService may be nil.
func New(cfg config.Config, dataStore writeStore, manager *cache.Manager, gate *dedupe.Gate, searchService searchIndex, logger *log.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		cache:  manager,
		gate:   gate,
		search: searchService,
		logger: logging.Component(logger, "app"),
	}
}

// Bootstrap performs the first synchronization of every collection and
// reindexes what was loaded. Collections that fail stay empty until the next
// refresh.
func (s *Service) Bootstrap(ctx context.Context) error {
	err := s.cache.RefreshAll(ctx, false)
	if s.search != nil {
		for _, c := range s.cache.Collections() {
			records, cerr := s.cache.Collection(c.Name)
			if cerr != nil || len(records) == 0 {
				continue
			}
			s.search.Reindex(c.Name, records)
		}
	}
	return err
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// BackendHealth reports the optional search backends.
func (s *Service) BackendHealth(ctx context.Context) map[string]string {
	if s.search == nil {
		return map[string]string{}
	}
	return s.search.Health(ctx)
}

func (s *Service) Collections() []cache.EntryStatus {
	return s.cache.StatusAll()
}

func (s *Service) GetCollection(_ context.Context, name string) (map[string]any, error) {
	records, err := s.cache.Collection(name)
	if err != nil {
		return nil, err
	}
	status, err := s.cache.Status(name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": records, "status": status}, nil
}

// RefreshCollection runs a refresh. With wait, a refresh that found a sync
// already running blocks until that sync settles.
func (s *Service) RefreshCollection(ctx context.Context, name string, force, wait bool) (map[string]any, error) {
	records, err := s.cache.Refresh(ctx, name, force)
	if err == nil && wait {
		records, err = s.cache.Wait(ctx, name)
	}
	status, statusErr := s.cache.Status(name)
	if statusErr != nil {
		return nil, statusErr
	}

	var syncErr *cache.SyncError
	if errors.As(err, &syncErr) {
		return nil, domainError(http.StatusBadGateway, "SYNC_FAILED", syncErr, map[string]any{
			"records": records,
			"status":  status,
		})
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": records, "status": status}, nil
}

func (s *Service) RefreshAll(ctx context.Context, force bool) (map[string]any, error) {
	err := s.cache.RefreshAll(ctx, force)
	statuses := s.cache.StatusAll()
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "SYNC_FAILED", err, map[string]any{"collections": statuses})
	}
	return map[string]any{"collections": statuses}, nil
}

// CreateRecord writes the record remotely and, once that succeeded, puts it
// at the front of the cached collection.
func (s *Service) CreateRecord(ctx context.Context, name string, input CreateRecordInput) (store.Record, error) {
	if _, err := s.cache.Lookup(name); err != nil {
		return store.Record{}, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	created, err := s.store.Insert(ctx, name, store.Record{ID: id, Fields: input.Fields})
	if err != nil {
		return store.Record{}, fmt.Errorf("create record: %w", err)
	}
	if err := s.cache.ApplyCreate(name, created); err != nil {
		return store.Record{}, err
	}
	if s.search != nil {
		s.search.RecordsChanged(ctx, name, created)
	}
	return created, nil
}

func (s *Service) UpdateRecord(ctx context.Context, name, id string, input UpdateRecordInput) (store.Record, error) {
	if _, err := s.cache.Lookup(name); err != nil {
		return store.Record{}, err
	}
	updated, err := s.store.Update(ctx, name, id, input.Fields)
	if err != nil {
		return store.Record{}, fmt.Errorf("update record: %w", err)
	}
	if err := s.cache.ApplyUpdate(name, id, input.Fields); err != nil {
		return store.Record{}, err
	}
	if s.search != nil {
		s.search.RecordsChanged(ctx, name, updated)
	}
	return updated, nil
}

func (s *Service) DeleteRecords(ctx context.Context, name string, ids []string) (map[string]any, error) {
	if _, err := s.cache.Lookup(name); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteMany(ctx, name, ids)
	if err != nil {
		return nil, fmt.Errorf("delete records: %w", err)
	}
	if err := s.cache.ApplyDeleteMany(name, ids); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.RecordsDeleted(ctx, name, ids...)
	}
	return map[string]any{"deleted": deleted}, nil
}

// CheckDuplicates runs the debounced duplicate check for input.Key. The
// title field defaults to the collection's configured title field.
func (s *Service) CheckDuplicates(ctx context.Context, input DuplicateCheckInput) (dedupe.Result, error) {
	collection, err := s.cache.Lookup(input.Collection)
	if err != nil {
		return dedupe.Result{}, err
	}
	field := input.TitleField
	if field == "" {
		field = collection.TitleField
	}
	return s.gate.Check(ctx, input.Key, dedupe.Request{
		Title:      input.Title,
		Collection: collection.Name,
		TitleField: field,
		Threshold:  input.Threshold,
	})
}

// Similar compares value against the field of every cached record with the
// bigram Dice coefficient. No remote call is made.
func (s *Service) Similar(_ context.Context, input SimilarInput) ([]SimilarMatch, error) {
	collection, err := s.cache.Lookup(input.Collection)
	if err != nil {
		return nil, err
	}
	field := input.Field
	if field == "" {
		field = collection.TitleField
	}
	threshold := s.cfg.Dedup.Threshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	records, err := s.cache.Collection(collection.Name)
	if err != nil {
		return nil, err
	}
	values := make([]string, len(records))
	for i, r := range records {
		values[i] = r.Text(field)
	}

	matches := similarity.MostSimilar(input.Value, values, threshold)
	out := make([]SimilarMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, SimilarMatch{Record: records[m.Index], Score: m.Score})
	}
	return out, nil
}
