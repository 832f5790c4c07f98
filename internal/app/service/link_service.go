package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/linksmith/linksmith/internal/app/auth"
	"github.com/linksmith/linksmith/internal/app/model"
	"github.com/linksmith/linksmith/internal/app/ratelimit"
	"github.com/linksmith/linksmith/internal/app/repository"
	"github.com/linksmith/linksmith/internal/app/slug"
)

// slugRetryBudget bounds random generation against the almost-impossible
// case of repeated collisions. Exhausting it is treated as a capacity
// problem, not attacker activity.
const slugRetryBudget = 5

// LinkService is the link-record lifecycle engine: it owns creation,
// resolution and retirement of short links on top of the KV store.
type LinkService interface {
	Create(ctx context.Context, in CreateInput) (*model.LinkRecord, error)
	Resolve(ctx context.Context, slugName string, in ResolveInput) (*Resolution, error)
	Delete(ctx context.Context, in DeleteInput) error
	List(ctx context.Context, in ListInput) (*LinkPage, error)
}

// Deps bundles the collaborators the engine composes.
type Deps struct {
	Logger *zap.Logger
	Store  repository.KVStore
	Guard  *auth.Guard
	// Limiter throttles anonymous creation; nil disables throttling.
	Limiter ratelimit.Limiter
	// Events announces lifecycle transitions; nil disables publishing.
	Events *EventPublisher
	// Origin is the public origin of this deployment, used to reject
	// recursive short links.
	Origin     string
	SlugLength int
	// Filter remembers slugs minted by this process. During generation a
	// filter hit retries a fresh candidate without a store read; a miss
	// is still confirmed against the store. Nil disables it.
	Filter *bloom.BloomFilter
}

type linkService struct {
	logger     *zap.Logger
	store      repository.KVStore
	guard      *auth.Guard
	limiter    ratelimit.Limiter
	events     *EventPublisher
	origin     string
	slugLength int
	filter     *bloom.BloomFilter
	filterMu   sync.Mutex
	now        func() time.Time
}

// NewLinkService returns an engine wired to the given collaborators.
func NewLinkService(deps Deps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	slugLength := deps.SlugLength
	if slugLength <= 0 {
		slugLength = slug.DefaultLength
	}
	return &linkService{
		logger:     logger,
		store:      deps.Store,
		guard:      deps.Guard,
		limiter:    deps.Limiter,
		events:     deps.Events,
		origin:     normalizeOrigin(deps.Origin),
		slugLength: slugLength,
		filter:     deps.Filter,
		now:        time.Now,
	}
}

// CreateInput captures a creation request with its caller-presented
// credentials made explicit.
type CreateInput struct {
	URL      string
	Slug     string // optional custom slug
	Password string // cleartext, hashed before storage
	// ExpiresAt is an absolute expiry instant in epoch milliseconds.
	ExpiresAt int64
	MaxClicks int64
	AdminKey  string
	ClientIP  string
}

func (s *linkService) Create(ctx context.Context, in CreateInput) (*model.LinkRecord, error) {
	// Restricted deployments require the admin key; open ones are only
	// protected by the creation quota.
	if s.guard.Restricted() {
		if err := s.guard.Authorize(in.AdminKey); err != nil {
			return nil, ErrUnauthorized
		}
	} else if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, in.ClientIP)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	now := s.now()

	if err := s.validateDestination(in.URL); err != nil {
		return nil, err
	}
	if in.MaxClicks < 0 {
		return nil, fmt.Errorf("%w: maxClicks must be positive", ErrValidation)
	}
	if in.ExpiresAt != 0 && in.ExpiresAt <= now.UnixMilli() {
		return nil, fmt.Errorf("%w: expiration must be in the future", ErrValidation)
	}

	slugName, err := s.resolveSlug(ctx, strings.TrimSpace(in.Slug))
	if err != nil {
		return nil, err
	}

	rec := &model.LinkRecord{
		URL:       in.URL,
		Slug:      slugName,
		MaxClicks: in.MaxClicks,
		Clicks:    0,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: in.ExpiresAt,
	}
	if in.Password != "" {
		rec.PasswordHash = hashPassword(in.Password)
	}

	if err := s.writeRecord(ctx, rec); err != nil {
		return nil, err
	}

	s.rememberSlug(slugName)
	s.publishEvent(model.LinkEventCreated, slugName)

	s.logger.Info("short link created",
		zap.String("slug", slugName),
		zap.Bool("has_password", rec.HasPassword()),
		zap.Int64("max_clicks", rec.MaxClicks),
	)
	return rec, nil
}

// ResolveInput carries the optional password attempt. Attempts only
// accompany state-changing requests (form submissions), never plain
// lookups.
type ResolveInput struct {
	Password string
}

// Outcome classifies a resolution that did not fail outright.
type Outcome int

const (
	// OutcomeRedirect means the caller should redirect to the URL.
	OutcomeRedirect Outcome = iota
	// OutcomePasswordRequired means no attempt was supplied for a gated link.
	OutcomePasswordRequired
	// OutcomePasswordIncorrect means the supplied attempt did not match.
	OutcomePasswordIncorrect
)

// Resolution is the engine's answer for a resolvable slug.
type Resolution struct {
	Outcome Outcome
	URL     string
	Record  *model.LinkRecord
}

func (s *linkService) Resolve(ctx context.Context, slugName string, in ResolveInput) (*Resolution, error) {
	raw, err := s.store.Get(ctx, slugName)
	if err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("load link %q: %w", slugName, err)
	}

	now := s.now()
	rec := model.DecodeRecord(raw, now)
	// Legacy bare-string records carry no slug; write-backs normalize them.
	rec.Slug = slugName

	if rec.ExpiredAt(now) {
		return nil, ErrLinkExpired
	}

	if rec.HasPassword() {
		if in.Password == "" {
			return &Resolution{Outcome: OutcomePasswordRequired, Record: rec}, nil
		}
		if hashPassword(in.Password) != rec.PasswordHash {
			return &Resolution{Outcome: OutcomePasswordIncorrect, Record: rec}, nil
		}
	}

	// A prior request may already have spent the last click; retire the
	// record before any increment.
	if rec.Exhausted() {
		if err := s.store.Delete(ctx, slugName); err != nil {
			return nil, fmt.Errorf("retire exhausted link %q: %w", slugName, err)
		}
		s.publishEvent(model.LinkEventExhausted, slugName)
		return nil, ErrLinkExhausted
	}

	rec.Clicks++

	if rec.Exhausted() {
		// Strict ceiling policy: the click that reaches the ceiling is
		// honored, and the record self-destructs in the same operation.
		if err := s.store.Delete(ctx, slugName); err != nil {
			return nil, fmt.Errorf("retire link %q at click ceiling: %w", slugName, err)
		}
		s.publishEvent(model.LinkEventExhausted, slugName)
		return &Resolution{Outcome: OutcomeRedirect, URL: rec.URL, Record: rec}, nil
	}

	// Write back the incremented counter, preserving the original expiry.
	// Not retried on failure: a transparent retry could double-count.
	if err := s.writeRecord(ctx, rec); err != nil {
		return nil, err
	}

	return &Resolution{Outcome: OutcomeRedirect, URL: rec.URL, Record: rec}, nil
}

// DeleteInput names the slugs to retire along with the admin credential
// and the one-time CSRF token.
type DeleteInput struct {
	Slugs     []string
	AdminKey  string
	CSRFToken string
}

func (s *linkService) Delete(ctx context.Context, in DeleteInput) error {
	if !s.guard.Restricted() {
		return ErrUnauthorized
	}
	if err := s.guard.Authorize(in.AdminKey); err != nil {
		return ErrUnauthorized
	}
	// The token is spent regardless of what happens afterwards.
	if err := s.guard.ConsumeCSRFToken(ctx, in.CSRFToken); err != nil {
		if errors.Is(err, auth.ErrInvalidCSRFToken) {
			return ErrCSRFToken
		}
		return err
	}

	if len(in.Slugs) == 0 {
		return fmt.Errorf("%w: missing slug or slugs", ErrValidation)
	}

	// Deletes are independent and best effort: they run concurrently
	// with no ordering and no rollback, and individual failures are
	// logged rather than aggregated.
	var wg sync.WaitGroup
	for _, slugName := range in.Slugs {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.store.Delete(ctx, name); err != nil {
				s.logger.Error("failed to delete link", zap.String("slug", name), zap.Error(err))
				return
			}
			s.publishEvent(model.LinkEventDeleted, name)
		}(slugName)
	}
	wg.Wait()

	return nil
}

// ListInput requests one page of the link inventory.
type ListInput struct {
	AdminKey string
	Cursor   string
	Limit    int
}

// LinkSummary is one listed link, assembled from the write-time metadata
// when present.
type LinkSummary struct {
	Slug        string `json:"slug"`
	URL         string `json:"url"`
	CreatedAt   int64  `json:"created,omitempty"`
	Expiration  int64  `json:"expiration,omitempty"`
	HasPassword bool   `json:"hasPassword"`
}

// LinkPage is one page of summaries plus the CSRF token that authorizes
// the next mutating admin action.
type LinkPage struct {
	Links     []LinkSummary
	Cursor    string
	Complete  bool
	CSRFToken string
}

func (s *linkService) List(ctx context.Context, in ListInput) (*LinkPage, error) {
	if !s.guard.Restricted() {
		return nil, ErrUnauthorized
	}
	if err := s.guard.Authorize(in.AdminKey); err != nil {
		return nil, ErrUnauthorized
	}

	page, err := s.store.List(ctx, repository.ListOptions{
		Limit:  in.Limit,
		Cursor: in.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links := make([]LinkSummary, 0, len(page.Entries))
	for _, entry := range page.Entries {
		summary := LinkSummary{Slug: entry.Key}
		if entry.ExpiresAt != nil {
			summary.Expiration = entry.ExpiresAt.Unix()
		}

		if entry.Metadata != nil {
			summary.URL = entry.Metadata.URL
			summary.CreatedAt = entry.Metadata.CreatedAt
			summary.HasPassword = entry.Metadata.HasPassword
			links = append(links, summary)
			continue
		}

		// Legacy entries predate metadata; fall back to one full read
		// and a legacy-tolerant decode per key.
		raw, err := s.store.Get(ctx, entry.Key)
		if err != nil {
			if errors.Is(err, repository.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("read link %q during listing: %w", entry.Key, err)
		}
		rec := model.DecodeRecord(raw, s.now())
		summary.URL = rec.URL
		summary.CreatedAt = rec.CreatedAt
		summary.HasPassword = rec.HasPassword()
		links = append(links, summary)
	}

	token, err := s.guard.IssueCSRFToken(ctx)
	if err != nil {
		return nil, err
	}

	return &LinkPage{
		Links:     links,
		Cursor:    page.Cursor,
		Complete:  page.Complete,
		CSRFToken: token,
	}, nil
}

func (s *linkService) validateDestination(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: missing 'url' field", ErrValidation)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrValidation)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: URL must use HTTP or HTTPS protocol", ErrValidation)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: invalid URL format", ErrValidation)
	}
	if s.origin != "" && originOf(parsed) == s.origin {
		return fmt.Errorf("%w: cannot shorten a URL from the same domain (recursive loop risk)", ErrValidation)
	}
	return nil
}

// resolveSlug either validates and claims a custom slug or generates a
// fresh one. The existence check before acceptance is best effort on an
// eventually consistent store, not a uniqueness guarantee.
func (s *linkService) resolveSlug(ctx context.Context, custom string) (string, error) {
	if custom != "" {
		if err := slug.Validate(custom); err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		exists, err := s.slugExists(ctx, custom)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrSlugTaken
		}
		return custom, nil
	}

	for attempt := 0; attempt < slugRetryBudget; attempt++ {
		candidate, err := slug.Generate(s.slugLength)
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}

		// A filter hit means this process minted the candidate recently,
		// so spend the attempt on a fresh one without a store read. A
		// miss proves nothing about other replicas or earlier runs and
		// must still be confirmed against the store.
		if s.filter != nil && s.testSlug(candidate) {
			continue
		}

		exists, err := s.slugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrSlugSpaceExhausted
}

func (s *linkService) slugExists(ctx context.Context, name string) (bool, error) {
	_, err := s.store.Get(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrKeyNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check slug %q: %w", name, err)
}

func (s *linkService) writeRecord(ctx context.Context, rec *model.LinkRecord) error {
	encoded, err := model.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode link %q: %w", rec.Slug, err)
	}

	opts := repository.PutOptions{Metadata: rec.Metadata()}
	if rec.ExpiresAt != 0 {
		opts.ExpiresAt = rec.ExpiresAt / 1000
	} else {
		// Legacy values may carry a store-level expiry the record knows
		// nothing about; a click write-back must not clear it.
		opts.KeepTTL = true
	}

	if err := s.store.Put(ctx, rec.Slug, encoded, opts); err != nil {
		return fmt.Errorf("store link %q: %w", rec.Slug, err)
	}
	return nil
}

func (s *linkService) rememberSlug(name string) {
	if s.filter == nil {
		return
	}
	s.filterMu.Lock()
	s.filter.AddString(name)
	s.filterMu.Unlock()
}

func (s *linkService) testSlug(name string) bool {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	return s.filter.TestString(name)
}

func (s *linkService) publishEvent(eventType, slugName string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(eventType, slugName); err != nil {
		s.logger.Error("failed to publish link event",
			zap.String("type", eventType),
			zap.String("slug", slugName),
			zap.Error(err),
		)
	}
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func normalizeOrigin(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}
	return originOf(parsed)
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
