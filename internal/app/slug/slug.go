package slug

import (
	"crypto/rand"
	"errors"
	"regexp"
	"strings"
)

const (
	// MaxLength bounds custom slugs.
	MaxLength = 64
	// DefaultLength is used for generated slugs.
	DefaultLength = 6

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrEmpty    = errors.New("slug must not be empty")
	ErrTooLong  = errors.New("slug must be 64 characters or less")
	ErrCharset  = errors.New("slug can only contain letters, numbers, underscores and hyphens")
	ErrReserved = errors.New("this slug is reserved for system use")
)

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Slugs that would shadow the API or static assets are never assignable.
var reserved = map[string]struct{}{
	"api":         {},
	"admin":       {},
	"admin.html":  {},
	"index":       {},
	"index.html":  {},
	"favicon.ico": {},
	"robots.txt":  {},
	"assets":      {},
}

// Validate checks a caller-supplied custom slug against the format and
// reserved-word rules.
func Validate(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if len(s) > MaxLength {
		return ErrTooLong
	}
	if !slugPattern.MatchString(s) {
		return ErrCharset
	}
	if _, ok := reserved[strings.ToLower(s)]; ok {
		return ErrReserved
	}
	return nil
}

// Generate draws a random slug of the given length from the alphanumeric
// alphabet. Slugs are short guessable tokens, so the randomness comes from
// crypto/rand rather than a statistically weak source.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	// Rejection sampling keeps the draw uniform: 256 is not a multiple
	// of the alphabet size, so a plain modulo would favor its first
	// symbols.
	const limit = 256 - 256%len(alphabet)

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
