package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/linksmith/linksmith/internal/app/auth"
	"github.com/linksmith/linksmith/internal/app/model"
	"github.com/linksmith/linksmith/internal/app/repository"
	"github.com/linksmith/linksmith/internal/app/slug"
)

// memStore is an in-memory KVStore for exercising the engine.
type memStore struct {
	mu     sync.Mutex
	values map[string][]byte
	meta   map[string]*model.LinkMetadata
	expiry map[string]int64 // unix seconds
}

func newMemStore() *memStore {
	return &memStore{
		values: map[string][]byte{},
		meta:   map[string]*model.LinkMetadata{},
		expiry: map[string]int64{},
	}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	if !ok {
		return nil, repository.ErrKeyNotFound
	}
	return val, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte, opts repository.PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	if opts.Metadata != nil {
		m.meta[key] = opts.Metadata
	} else {
		delete(m.meta, key)
	}
	switch {
	case opts.ExpiresAt > 0:
		m.expiry[key] = opts.ExpiresAt
	case opts.KeepTTL:
		// keep any existing expiry
	default:
		delete(m.expiry, key)
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.meta, key)
	delete(m.expiry, key)
	return nil
}

func (m *memStore) List(_ context.Context, opts repository.ListOptions) (*repository.ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		if strings.Contains(k, ":") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	page := &repository.ListPage{Complete: true}
	for _, k := range keys {
		entry := repository.KeyEntry{Key: k, Metadata: m.meta[k]}
		if exp, ok := m.expiry[k]; ok {
			t := time.Unix(exp, 0)
			entry.ExpiresAt = &t
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *memStore) record(t *testing.T, key string) *model.LinkRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		t.Fatalf("expected record %q in store", key)
	}
	return model.DecodeRecord(raw, time.Now())
}

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *stubLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	l.calls++
	return l.allow, l.err
}

func newTestService(store repository.KVStore, adminKey string) *linkService {
	svc := NewLinkService(Deps{
		Store:  store,
		Guard:  auth.NewGuard(adminKey, store),
		Origin: "https://lnk.example.com",
	})
	return svc.(*linkService)
}

func TestCreate_GeneratesSlug(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	rec, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(rec.Slug) != slug.DefaultLength {
		t.Fatalf("expected generated slug of length %d, got %q", slug.DefaultLength, rec.Slug)
	}
	if err := slug.Validate(rec.Slug); err != nil {
		t.Fatalf("generated slug %q fails validation: %v", rec.Slug, err)
	}
	if rec.Clicks != 0 {
		t.Fatalf("expected clicks=0, got %d", rec.Clicks)
	}

	stored := store.record(t, rec.Slug)
	if stored.URL != "https://example.com" {
		t.Fatalf("stored URL mismatch: %q", stored.URL)
	}

	store.mu.Lock()
	meta := store.meta[rec.Slug]
	store.mu.Unlock()
	if meta == nil || meta.URL != "https://example.com" || meta.HasPassword {
		t.Fatalf("expected listing metadata to be attached, got %+v", meta)
	}
}

func TestCreate_CustomSlug(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	rec, err := svc.Create(context.Background(), CreateInput{
		URL:  "https://example.com",
		Slug: "my-link",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Slug != "my-link" {
		t.Fatalf("expected custom slug, got %q", rec.Slug)
	}

	// Same slug again is a conflict.
	_, err = svc.Create(context.Background(), CreateInput{
		URL:  "https://other.example.com",
		Slug: "my-link",
	})
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestCreate_FilterMissStillChecksStore(t *testing.T) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	store := newMemStore()
	for _, c := range alphabet {
		raw, _ := model.EncodeRecord(&model.LinkRecord{
			URL:       "https://example.com/old",
			Slug:      string(c),
			CreatedAt: 1,
		})
		store.Put(context.Background(), string(c), raw, repository.PutOptions{})
	}

	// A fresh filter knows none of the pre-existing slugs. Every
	// candidate misses it, so the store check alone must reject them
	// all; links created before this process started are not fair game.
	svc := NewLinkService(Deps{
		Store:      store,
		Guard:      auth.NewGuard("", store),
		Origin:     "https://lnk.example.com",
		SlugLength: 1,
		Filter:     bloom.NewWithEstimates(1000, 0.01),
	}).(*linkService)

	_, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com/new"})
	if !errors.Is(err, ErrSlugSpaceExhausted) {
		t.Fatalf("expected ErrSlugSpaceExhausted, got %v", err)
	}
	for _, c := range alphabet {
		if rec := store.record(t, string(c)); rec.URL != "https://example.com/old" {
			t.Fatalf("existing link %q overwritten: now points to %q", string(c), rec.URL)
		}
	}
}

func TestCreate_WithFilter(t *testing.T) {
	store := newMemStore()
	svc := NewLinkService(Deps{
		Store:  store,
		Guard:  auth.NewGuard("", store),
		Origin: "https://lnk.example.com",
		Filter: bloom.NewWithEstimates(1000, 0.01),
	}).(*linkService)

	first, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com/b"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if first.Slug == second.Slug {
		t.Fatalf("expected distinct slugs, both got %q", first.Slug)
	}
	if !svc.testSlug(first.Slug) || !svc.testSlug(second.Slug) {
		t.Fatal("expected created slugs to be remembered by the filter")
	}
}

func TestCreate_ReservedSlug(t *testing.T) {
	svc := newTestService(newMemStore(), "")

	_, err := svc.Create(context.Background(), CreateInput{
		URL:  "https://example.com",
		Slug: "admin",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for reserved slug, got %v", err)
	}
}

func TestCreate_RejectsBadDestinations(t *testing.T) {
	svc := newTestService(newMemStore(), "")

	cases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/foo"},
		{"ftp", "ftp://example.com/file"},
		{"javascript", "javascript:alert(1)"},
		{"own origin", "https://lnk.example.com/abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), CreateInput{URL: tc.url})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation for %q, got %v", tc.url, err)
			}
		})
	}
}

func TestCreate_RateLimited(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")
	limiter := &stubLimiter{allow: false}
	svc.limiter = limiter

	_, err := svc.Create(context.Background(), CreateInput{
		URL:      "https://example.com",
		ClientIP: "203.0.113.9",
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected one limiter call, got %d", limiter.calls)
	}
	// Throttling happens before any store access.
	if len(store.values) != 0 {
		t.Fatal("expected no store writes for throttled request")
	}
}

func TestCreate_LimiterFailureAllows(t *testing.T) {
	svc := newTestService(newMemStore(), "")
	svc.limiter = &stubLimiter{allow: false, err: errors.New("redis down")}

	if _, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com"}); err != nil {
		t.Fatalf("expected fail-open create, got %v", err)
	}
}

func TestCreate_RestrictedMode(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "super-secret")
	limiter := &stubLimiter{allow: true}
	svc.limiter = limiter

	_, err := svc.Create(context.Background(), CreateInput{URL: "https://example.com"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without key, got %v", err)
	}

	_, err = svc.Create(context.Background(), CreateInput{
		URL:      "https://example.com",
		AdminKey: "wrong",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized with wrong key, got %v", err)
	}

	if _, err := svc.Create(context.Background(), CreateInput{
		URL:      "https://example.com",
		AdminKey: "super-secret",
	}); err != nil {
		t.Fatalf("expected authorized create, got %v", err)
	}

	// Restricted deployments bypass the creation quota entirely.
	if limiter.calls != 0 {
		t.Fatalf("expected limiter to be skipped in restricted mode, got %d calls", limiter.calls)
	}
}

func TestCreate_HashesPassword(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	rec, err := svc.Create(context.Background(), CreateInput{
		URL:      "https://example.com",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// sha256("hunter2")
	const wantHash = "f52fbd32b2b3b86ff88ef6c490628285f482af15ddcb29541f94bcf526a3f6c7"
	if rec.PasswordHash != wantHash {
		t.Fatalf("expected stored hash %s, got %s", wantHash, rec.PasswordHash)
	}

	stored := store.record(t, rec.Slug)
	if strings.Contains(string(store.values[rec.Slug]), "hunter2") {
		t.Fatal("cleartext password must never be persisted")
	}
	if !stored.HasPassword() {
		t.Fatal("expected stored record to be password gated")
	}

	store.mu.Lock()
	meta := store.meta[rec.Slug]
	store.mu.Unlock()
	if meta == nil || !meta.HasPassword {
		t.Fatal("expected hasPassword metadata flag")
	}
}

func TestCreate_ExpiryWrittenAsStoreTTL(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")
	now := time.Now()
	svc.now = func() time.Time { return now }

	expires := now.Add(2 * time.Hour).UnixMilli()
	rec, err := svc.Create(context.Background(), CreateInput{
		URL:       "https://example.com",
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	store.mu.Lock()
	storeExpiry := store.expiry[rec.Slug]
	store.mu.Unlock()
	if storeExpiry != expires/1000 {
		t.Fatalf("expected store expiry %d, got %d", expires/1000, storeExpiry)
	}

	_, err = svc.Create(context.Background(), CreateInput{
		URL:       "https://example.com",
		ExpiresAt: now.Add(-time.Minute).UnixMilli(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for past expiry, got %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	svc := newTestService(newMemStore(), "")

	_, err := svc.Resolve(context.Background(), "missing", ResolveInput{})
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestResolve_Expired(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	raw, _ := model.EncodeRecord(&model.LinkRecord{
		URL:       "https://example.com",
		Slug:      "old",
		Clicks:    1,
		CreatedAt: time.Now().Add(-48 * time.Hour).UnixMilli(),
		ExpiresAt: time.Now().Add(-time.Hour).UnixMilli(),
	})
	store.Put(context.Background(), "old", raw, repository.PutOptions{})

	_, err := svc.Resolve(context.Background(), "old", ResolveInput{})
	if !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}

	// Expiry is checked before anything else: no click increment.
	if store.record(t, "old").Clicks != 1 {
		t.Fatal("expected no state change for expired link")
	}
}

func TestResolve_PasswordFlow(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	rec, err := svc.Create(context.Background(), CreateInput{
		URL:      "https://example.com",
		Password: "opensesame",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// No attempt: challenge, no state change.
	res, err := svc.Resolve(context.Background(), rec.Slug, ResolveInput{})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Outcome != OutcomePasswordRequired {
		t.Fatalf("expected password challenge, got %v", res.Outcome)
	}
	if store.record(t, rec.Slug).Clicks != 0 {
		t.Fatal("expected no click increment for challenge")
	}

	// Wrong attempt: challenge with error, still no state change.
	res, err = svc.Resolve(context.Background(), rec.Slug, ResolveInput{Password: "wrong"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Outcome != OutcomePasswordIncorrect {
		t.Fatalf("expected incorrect-password outcome, got %v", res.Outcome)
	}
	if store.record(t, rec.Slug).Clicks != 0 {
		t.Fatal("expected no click increment for failed attempt")
	}

	// Correct attempt: redirect and the usual click accounting.
	res, err = svc.Resolve(context.Background(), rec.Slug, ResolveInput{Password: "opensesame"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Outcome != OutcomeRedirect || res.URL != "https://example.com" {
		t.Fatalf("expected redirect, got %+v", res)
	}
	if store.record(t, rec.Slug).Clicks != 1 {
		t.Fatal("expected click increment after successful unlock")
	}
}

func TestResolve_ClickCeilingLifecycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		URL:       "https://example.com",
		MaxClicks: 2,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Clicks != 0 {
		t.Fatalf("expected fresh record with clicks=0, got %d", rec.Clicks)
	}

	// First click: redirect, counter written back.
	res, err := svc.Resolve(ctx, rec.Slug, ResolveInput{})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if res.Outcome != OutcomeRedirect {
		t.Fatalf("expected redirect, got %v", res.Outcome)
	}
	if store.record(t, rec.Slug).Clicks != 1 {
		t.Fatalf("expected clicks=1 after first resolve")
	}

	// Second click reaches the ceiling: still honored, record retired
	// in the same operation.
	res, err = svc.Resolve(ctx, rec.Slug, ResolveInput{})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.Outcome != OutcomeRedirect {
		t.Fatalf("expected redirect for ceiling-reaching click, got %v", res.Outcome)
	}
	if store.has(rec.Slug) {
		t.Fatal("expected record to self-destruct on reaching the ceiling")
	}

	// Third attempt: the record is gone.
	_, err = svc.Resolve(ctx, rec.Slug, ResolveInput{})
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound after self-destruct, got %v", err)
	}
}

func TestResolve_AlreadyExhausted(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	// A stale write from a racing request can leave clicks at or past
	// the ceiling; the pre-increment check retires it.
	raw, _ := model.EncodeRecord(&model.LinkRecord{
		URL:       "https://example.com",
		Slug:      "spent",
		MaxClicks: 3,
		Clicks:    3,
		CreatedAt: time.Now().UnixMilli(),
	})
	store.Put(context.Background(), "spent", raw, repository.PutOptions{})

	_, err := svc.Resolve(context.Background(), "spent", ResolveInput{})
	if !errors.Is(err, ErrLinkExhausted) {
		t.Fatalf("expected ErrLinkExhausted, got %v", err)
	}
	if store.has("spent") {
		t.Fatal("expected exhausted record to be deleted")
	}
}

func TestResolve_LegacyValueNormalizedOnWriteBack(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	store.Put(context.Background(), "legacy", []byte("https://old.example.com"), repository.PutOptions{})

	res, err := svc.Resolve(context.Background(), "legacy", ResolveInput{})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Outcome != OutcomeRedirect || res.URL != "https://old.example.com" {
		t.Fatalf("expected redirect to legacy URL, got %+v", res)
	}

	stored := store.record(t, "legacy")
	if stored.URL != "https://old.example.com" || stored.Clicks != 1 || stored.Slug != "legacy" {
		t.Fatalf("expected canonical write-back, got %+v", stored)
	}
}

func TestResolve_WriteBackPreservesStoreExpiry(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "")

	// A legacy bare-string value may have its only expiry at the store
	// level. The click write-back rewrites the value in canonical form
	// but must leave that expiry in place.
	expiresAt := time.Now().Add(time.Hour).Unix()
	store.Put(context.Background(), "legacy", []byte("https://old.example.com"), repository.PutOptions{
		ExpiresAt: expiresAt,
	})

	res, err := svc.Resolve(context.Background(), "legacy", ResolveInput{})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Outcome != OutcomeRedirect {
		t.Fatalf("expected redirect, got %+v", res)
	}

	store.mu.Lock()
	got, ok := store.expiry["legacy"]
	store.mu.Unlock()
	if !ok || got != expiresAt {
		t.Fatalf("store expiry cleared by write-back: got %d, want %d", got, expiresAt)
	}
	if rec := store.record(t, "legacy"); rec.Clicks != 1 {
		t.Fatalf("expected click recorded, got %+v", rec)
	}
}

func TestDelete(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "super-secret")
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{
		URL:      "https://example.com",
		Slug:     "doomed",
		AdminKey: "super-secret",
	}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	token, err := svc.guard.IssueCSRFToken(ctx)
	if err != nil {
		t.Fatalf("IssueCSRFToken error: %v", err)
	}

	// Deleting a mix of live and never-existing slugs succeeds.
	err = svc.Delete(ctx, DeleteInput{
		Slugs:     []string{"doomed", "never-existed"},
		AdminKey:  "super-secret",
		CSRFToken: token,
	})
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if store.has("doomed") {
		t.Fatal("expected record to be deleted")
	}

	// The token was spent above; reuse fails.
	err = svc.Delete(ctx, DeleteInput{
		Slugs:     []string{"doomed"},
		AdminKey:  "super-secret",
		CSRFToken: token,
	})
	if !errors.Is(err, ErrCSRFToken) {
		t.Fatalf("expected ErrCSRFToken on token reuse, got %v", err)
	}
}

func TestDelete_Unauthorized(t *testing.T) {
	ctx := context.Background()

	open := newTestService(newMemStore(), "")
	if err := open.Delete(ctx, DeleteInput{Slugs: []string{"x"}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized in open mode, got %v", err)
	}

	restricted := newTestService(newMemStore(), "super-secret")
	err := restricted.Delete(ctx, DeleteInput{Slugs: []string{"x"}, AdminKey: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized with wrong key, got %v", err)
	}
}

func TestList(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, "super-secret")
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{
		URL:      "https://a.example.com",
		Slug:     "aaa",
		Password: "pw",
		AdminKey: "super-secret",
	}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// A legacy value without metadata forces the per-key fallback read.
	store.Put(ctx, "zzz", []byte("https://z.example.com"), repository.PutOptions{})

	page, err := svc.List(ctx, ListInput{AdminKey: "super-secret"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(page.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(page.Links))
	}
	if !page.Complete {
		t.Fatal("expected complete page")
	}
	if page.CSRFToken == "" {
		t.Fatal("expected a csrf token on listing")
	}

	first, second := page.Links[0], page.Links[1]
	if first.Slug != "aaa" || first.URL != "https://a.example.com" || !first.HasPassword {
		t.Fatalf("unexpected metadata-backed summary: %+v", first)
	}
	if second.Slug != "zzz" || second.URL != "https://z.example.com" || second.HasPassword {
		t.Fatalf("unexpected fallback summary: %+v", second)
	}
}

func TestList_Unauthorized(t *testing.T) {
	svc := newTestService(newMemStore(), "super-secret")

	_, err := svc.List(context.Background(), ListInput{AdminKey: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	open := newTestService(newMemStore(), "")
	if _, err := open.List(context.Background(), ListInput{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized in open mode, got %v", err)
	}
}
