// Package storetest provides an in-memory RemoteStore for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pressroom/api/internal/store"
)

// PageCall records one Page request.
type PageCall struct {
	Collection string
	OrderKey   string
	Offset     int
	Limit      int
	Returned   int
}

// Fake keeps each collection newest-first in memory and counts every call.
// Error fields make the matching call fail; hooks run before a call returns
// so tests can block or observe in-flight work.
type Fake struct {
	mu          sync.Mutex
	collections map[string][]store.Record

	CountErr  error
	PageErr   error
	PageErrAt int
	SearchErr error

	PageHook   func(collection string, offset int)
	SearchHook func(collection, pattern string)

	countCalls  int
	pageCalls   []PageCall
	searchCalls int
	lastPattern string
}

var _ store.RemoteStore = (*Fake)(nil)

func New() *Fake {
	return &Fake{collections: make(map[string][]store.Record), PageErrAt: -1}
}

// Seed replaces a collection with n generated records, newest first, titled
// "<collection> item <i>" where i counts up from the oldest record.
func (f *Fake) Seed(collection string, n int) []store.Record {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := make([]store.Record, n)
	for i := 0; i < n; i++ {
		rank := n - 1 - i
		records[i] = store.Record{
			ID:        fmt.Sprintf("%s-%05d", collection, rank),
			Fields:    map[string]any{"title": fmt.Sprintf("%s item %d", collection, rank)},
			CreatedAt: base.Add(time.Duration(rank) * time.Minute),
		}
	}
	f.Put(collection, records...)
	return records
}

// Put replaces a collection with records, which must already be newest first.
func (f *Fake) Put(collection string, records ...store.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = append([]store.Record(nil), records...)
}

// Prepend adds a record as the newest row of a collection.
func (f *Fake) Prepend(collection string, record store.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = append([]store.Record{record}, f.collections[collection]...)
}

func (f *Fake) Count(_ context.Context, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	return len(f.collections[collection]), nil
}

func (f *Fake) Page(_ context.Context, collection, orderKey string, offset, limit int) ([]store.Record, error) {
	f.mu.Lock()
	hook := f.PageHook
	f.mu.Unlock()
	if hook != nil {
		hook(collection, offset)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	call := PageCall{Collection: collection, OrderKey: orderKey, Offset: offset, Limit: limit}
	if f.PageErr != nil && (f.PageErrAt < 0 || f.PageErrAt == offset) {
		f.pageCalls = append(f.pageCalls, call)
		return nil, f.PageErr
	}

	rows := f.collections[collection]
	if offset >= len(rows) {
		f.pageCalls = append(f.pageCalls, call)
		return []store.Record{}, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]store.Record, 0, end-offset)
	for _, row := range rows[offset:end] {
		out = append(out, row.Clone())
	}
	call.Returned = len(out)
	f.pageCalls = append(f.pageCalls, call)
	return out, nil
}

// Search matches like SQL LIKE '%pattern%' on the lower-cased field, with
// "%" in pattern matching any run of characters.
func (f *Fake) Search(_ context.Context, collection, field, pattern string, limit int) ([]store.Record, error) {
	f.mu.Lock()
	hook := f.SearchHook
	f.mu.Unlock()
	if hook != nil {
		hook(collection, pattern)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastPattern = pattern
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	parts := strings.Split(strings.ToLower(pattern), "%")
	out := make([]store.Record, 0, limit)
	for _, row := range f.collections[collection] {
		if len(out) >= limit {
			break
		}
		if matchesInOrder(strings.ToLower(row.Text(field)), parts) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (f *Fake) CountCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls
}

func (f *Fake) PageCalls() []PageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PageCall(nil), f.pageCalls...)
}

func (f *Fake) SearchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

func (f *Fake) LastPattern() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPattern
}

func matchesInOrder(text string, parts []string) bool {
	pos := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(text[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}
