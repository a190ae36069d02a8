package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"time"
)

// Record is one content item: an id unique within its collection plus free
// form domain fields (title, date, author, ...). CreatedAt is the insertion
// rank used as the default ordering.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Clone returns a copy whose field map can be modified without affecting r.
func (r Record) Clone() Record {
	out := r
	out.Fields = maps.Clone(r.Fields)
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out
}

// Text returns the named field rendered as a string, or "" when absent.
func (r Record) Text(field string) string {
	value, ok := r.Fields[field]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// RemoteStore is the read side of the remote data store used by the cache
// and the duplicate gate.
type RemoteStore interface {
	Count(ctx context.Context, collection string) (int, error)
	// Page returns up to limit records starting at offset, ordered
	// descending by orderKey.
	Page(ctx context.Context, collection, orderKey string, offset, limit int) ([]Record, error)
	// Search returns up to limit records whose field loosely matches
	// pattern. A "%" in pattern matches any run of characters.
	Search(ctx context.Context, collection, field, pattern string, limit int) ([]Record, error)
}

var (
	ErrInvalidField = errors.New("invalid field name")
	ErrNotFound     = errors.New("record not found")
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidField reports whether name can be used as a field or order key.
func ValidField(name string) bool {
	return fieldNamePattern.MatchString(name)
}
