package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/linksmith/linksmith/internal/app/repository"
)

type mockStore struct {
	getFn    func(ctx context.Context, key string) ([]byte, error)
	putFn    func(ctx context.Context, key string, value []byte, opts repository.PutOptions) error
	deleteFn func(ctx context.Context, key string) error
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, repository.ErrKeyNotFound
}

func (m *mockStore) Put(ctx context.Context, key string, value []byte, opts repository.PutOptions) error {
	if m.putFn != nil {
		return m.putFn(ctx, key, value, opts)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockStore) List(ctx context.Context, opts repository.ListOptions) (*repository.ListPage, error) {
	return &repository.ListPage{Complete: true}, nil
}

var _ repository.KVStore = (*mockStore)(nil)

func TestGuard_Restricted(t *testing.T) {
	if NewGuard("", &mockStore{}).Restricted() {
		t.Error("expected open mode without admin key")
	}
	if !NewGuard("secret", &mockStore{}).Restricted() {
		t.Error("expected restricted mode with admin key")
	}
}

func TestGuard_Authorize(t *testing.T) {
	g := NewGuard("secret", &mockStore{})

	if err := g.Authorize("secret"); err != nil {
		t.Fatalf("expected valid key to authorize, got %v", err)
	}
	if err := g.Authorize("wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := g.Authorize(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty key, got %v", err)
	}

	// Open mode never authorizes, even an empty-for-empty match.
	open := NewGuard("", &mockStore{})
	if err := open.Authorize(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected open mode to reject, got %v", err)
	}
}

func TestGuard_IssueCSRFToken(t *testing.T) {
	var storedKey string
	var storedOpts repository.PutOptions
	store := &mockStore{
		putFn: func(_ context.Context, key string, value []byte, opts repository.PutOptions) error {
			storedKey = key
			storedOpts = opts
			return nil
		},
	}

	g := NewGuard("secret", store)
	token, err := g.IssueCSRFToken(context.Background())
	if err != nil {
		t.Fatalf("IssueCSRFToken error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
	if storedKey != "csrf:"+token {
		t.Fatalf("expected token stored under csrf prefix, got %q", storedKey)
	}
	if storedOpts.ExpiresAt == 0 {
		t.Fatal("expected token to be stored with an expiry")
	}
}

func TestGuard_ConsumeCSRFToken(t *testing.T) {
	deleted := []string{}
	store := &mockStore{
		getFn: func(_ context.Context, key string) ([]byte, error) {
			if key == "csrf:known" {
				return []byte("valid"), nil
			}
			return nil, repository.ErrKeyNotFound
		},
		deleteFn: func(_ context.Context, key string) error {
			deleted = append(deleted, key)
			return nil
		},
	}

	g := NewGuard("secret", store)

	if err := g.ConsumeCSRFToken(context.Background(), "known"); err != nil {
		t.Fatalf("expected known token to verify, got %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "csrf:known" {
		t.Fatalf("expected token to be invalidated on use, deletes: %v", deleted)
	}

	if err := g.ConsumeCSRFToken(context.Background(), "unknown"); !errors.Is(err, ErrInvalidCSRFToken) {
		t.Fatalf("expected ErrInvalidCSRFToken, got %v", err)
	}
	if err := g.ConsumeCSRFToken(context.Background(), ""); !errors.Is(err, ErrInvalidCSRFToken) {
		t.Fatalf("expected ErrInvalidCSRFToken for empty token, got %v", err)
	}
}
