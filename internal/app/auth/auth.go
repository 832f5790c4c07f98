package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/linksmith/linksmith/internal/app/repository"
)

var (
	// ErrUnauthorized signals a bad or missing admin key.
	ErrUnauthorized = errors.New("invalid or missing admin key")
	// ErrInvalidCSRFToken signals a missing, unknown or already consumed token.
	ErrInvalidCSRFToken = errors.New("csrf token verification failed")
)

const (
	csrfKeyPrefix  = "csrf:"
	csrfTokenBytes = 32
	// Tokens are minted on listing and must be spent within the hour.
	csrfTokenTTLSeconds = 3600
)

// Guard is the access-control collaborator: it checks the shared admin
// key and mints/consumes the one-time CSRF tokens used by mutating admin
// actions. Tokens live in the same key-value store as links, under a
// prefixed key with their own TTL.
type Guard struct {
	adminKey string
	store    repository.KVStore
}

// NewGuard builds a guard. An empty adminKey leaves the deployment in
// open mode: anyone may create links and the admin API stays locked.
func NewGuard(adminKey string, store repository.KVStore) *Guard {
	return &Guard{adminKey: adminKey, store: store}
}

// Restricted reports whether an admin key is configured.
func (g *Guard) Restricted() bool {
	return g.adminKey != ""
}

// Authorize validates a caller-presented admin key. It fails when no key
// is configured, so the admin API is unusable in open mode.
func (g *Guard) Authorize(key string) error {
	if g.adminKey == "" || key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(g.adminKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// IssueCSRFToken mints a fresh single-use token and persists it with a
// bounded lifetime.
func (g *Guard) IssueCSRFToken(ctx context.Context) (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	err := g.store.Put(ctx, csrfKeyPrefix+token, []byte("valid"), repository.PutOptions{
		ExpiresAt: time.Now().Unix() + csrfTokenTTLSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("auth: store csrf token: %w", err)
	}
	return token, nil
}

// ConsumeCSRFToken validates a token and invalidates it in the same call,
// so each token authorizes exactly one mutating action.
func (g *Guard) ConsumeCSRFToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidCSRFToken
	}

	key := csrfKeyPrefix + token
	if _, err := g.store.Get(ctx, key); err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return ErrInvalidCSRFToken
		}
		return fmt.Errorf("auth: read csrf token: %w", err)
	}

	if err := g.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("auth: consume csrf token: %w", err)
	}
	return nil
}
