package service

import "errors"

var (
	// ErrValidation covers malformed input: bad URLs, bad slugs, a
	// destination pointing back at the service itself.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized signals a bad or missing admin key.
	ErrUnauthorized = errors.New("invalid or missing admin key")
	// ErrCSRFToken signals a missing, unknown or already spent token.
	ErrCSRFToken = errors.New("csrf token verification failed")
	// ErrRateLimited signals that the creation quota is exhausted.
	ErrRateLimited = errors.New("too many requests")
	// ErrSlugTaken signals that the requested custom slug exists.
	ErrSlugTaken = errors.New("custom slug is already taken")
	// ErrSlugSpaceExhausted signals that random generation kept colliding.
	ErrSlugSpaceExhausted = errors.New("failed to generate unique slug")
	// ErrLinkNotFound signals that no record exists for the slug.
	ErrLinkNotFound = errors.New("short link not found")
	// ErrLinkExpired signals that the record's expiry instant has passed.
	ErrLinkExpired = errors.New("short link has expired")
	// ErrLinkExhausted signals that the click ceiling has been reached
	// and the record has self-destructed.
	ErrLinkExhausted = errors.New("short link has reached its click limit")
)
