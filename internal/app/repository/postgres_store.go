package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linksmith/linksmith/internal/app/model"
)

// PostgresStore is an alternative KVStore on a relational table with
// conditional reads, for deployments that want stronger consistency than
// the default backend offers. The engine is unaware of the difference.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a KVStore backed by the given pgx pool. The
// kv_entries table is migrated at startup (see model.KVEntry).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	var value []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	var expiresAt *time.Time
	if opts.ExpiresAt > 0 {
		t := time.Unix(opts.ExpiresAt, 0)
		expiresAt = &t
	}

	var meta []byte
	if opts.Metadata != nil {
		encoded, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata for %q: %w", key, err)
		}
		meta = encoded
	}

	query := `
		INSERT INTO kv_entries (key, value, metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`
	if expiresAt == nil && opts.KeepTTL {
		query = `
		INSERT INTO kv_entries (key, value, metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata,
			updated_at = now()`
	}

	if _, err := s.pool.Exec(ctx, query, key, value, meta, expiresAt); err != nil {
		return fmt.Errorf("postgres: put %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	// Deleting an absent key is not an error.
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	// Keyset pagination: the cursor is the last key of the previous page.
	// Collaborator keys (csrf tokens and the like) are namespaced with a
	// ':' that slugs cannot contain, so they are excluded from listing.
	const query = `
		SELECT key, metadata, expires_at FROM kv_entries
		WHERE key > $1
		  AND strpos(key, ':') = 0
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, opts.Cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	entries := make([]KeyEntry, 0, limit)
	for rows.Next() {
		var (
			entry KeyEntry
			meta  []byte
		)
		if err := rows.Scan(&entry.Key, &meta, &entry.ExpiresAt); err != nil {
			return nil, fmt.Errorf("postgres: scan list row: %w", err)
		}
		if len(meta) > 0 {
			var m model.LinkMetadata
			if err := json.Unmarshal(meta, &m); err == nil {
				entry.Metadata = &m
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rows: %w", err)
	}

	page := &ListPage{
		Entries:  entries,
		Complete: len(entries) < limit,
	}
	if !page.Complete && len(entries) > 0 {
		page.Cursor = entries[len(entries)-1].Key
	}
	return page, nil
}
