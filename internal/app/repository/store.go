package repository

import (
	"context"
	"errors"
	"time"

	"github.com/linksmith/linksmith/internal/app/model"
)

var (
	// ErrKeyNotFound signals that the requested key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)

// PutOptions carries the optional expiry and listing metadata attached to
// a stored value.
type PutOptions struct {
	// ExpiresAt is the absolute expiry instant in unix seconds, matching
	// the store's native per-key TTL granularity. Zero means no expiry.
	ExpiresAt int64
	// KeepTTL preserves an existing key's expiry instead of clearing it.
	// Only consulted when ExpiresAt is zero; a no-op for fresh keys.
	KeepTTL bool
	// Metadata is the lightweight sidecar read back during listing.
	// Nil clears any previously attached sidecar.
	Metadata *model.LinkMetadata
}

// ListOptions paginates key enumeration.
type ListOptions struct {
	Limit  int
	Cursor string
}

// KeyEntry is one enumerated key with whatever sidecar data the store has
// for it. Metadata is nil for values written before metadata existed.
type KeyEntry struct {
	Key       string
	Metadata  *model.LinkMetadata
	ExpiresAt *time.Time
}

// ListPage is one page of enumerated keys.
type ListPage struct {
	Entries []KeyEntry
	Cursor  string
	// Complete is true when there are no further pages.
	Complete bool
}

// KVStore is the narrow storage contract the lifecycle engine depends on.
// Implementations are eventually consistent: a read racing a recent write
// from another request may observe a stale value, and callers accept
// check-then-act patterns as best effort. Swapping in a strongly
// consistent backend only requires a new implementation of this interface.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (*ListPage, error)
}
