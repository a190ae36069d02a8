package cache

import (
	"errors"
	"fmt"
)

var ErrUnknownCollection = errors.New("unknown collection")

// SyncError reports a failed full synchronization. The entry keeps its
// previous records and lastSyncedAt.
type SyncError struct {
	Collection string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Collection, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
