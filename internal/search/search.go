// Package search finds duplicate-check candidates. Meilisearch is tried
// first, the SQL store is the fallback, and results may be cached in Redis
// for a short time.
package search

import (
	"context"
	"strings"

	"pressroom/api/internal/store"
)

// Searcher runs a loose title search in one collection.
type Searcher interface {
	Search(ctx context.Context, collection, field, pattern string, limit int) ([]store.Record, error)
}

// DefaultLimit is used when a caller passes a limit of zero or less.
const DefaultLimit = 5

// queryText turns a LIKE-style pattern into full-text query words.
func queryText(pattern string) string {
	return strings.Join(strings.FieldsFunc(pattern, func(r rune) bool {
		return r == '%' || r == ' '
	}), " ")
}

func nonNil(r []store.Record) []store.Record {
	if r == nil {
		return []store.Record{}
	}
	return r
}
