package model

import "time"

// LinkRecord is the unit of state for a short link, persisted as JSON in
// the key-value store under its slug.
type LinkRecord struct {
	URL          string `json:"url"`
	Slug         string `json:"slug,omitempty"`
	PasswordHash string `json:"password,omitempty"`
	MaxClicks    int64  `json:"maxClicks,omitempty"`
	Clicks       int64  `json:"clicks"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// HasPassword reports whether resolutions of this link are password gated.
func (r *LinkRecord) HasPassword() bool {
	return r.PasswordHash != ""
}

// ExpiredAt reports whether the record's expiry instant has passed at now.
func (r *LinkRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixMilli() > r.ExpiresAt
}

// Exhausted reports whether the click ceiling has been reached.
func (r *LinkRecord) Exhausted() bool {
	return r.MaxClicks > 0 && r.Clicks >= r.MaxClicks
}

// LinkMetadata is the lightweight sidecar attached to a stored record at
// write time so that listing does not need to read every value.
type LinkMetadata struct {
	URL         string `json:"url"`
	CreatedAt   int64  `json:"createdAt"`
	HasPassword bool   `json:"hasPassword"`
}

// Metadata derives the listing sidecar for a record.
func (r *LinkRecord) Metadata() *LinkMetadata {
	return &LinkMetadata{
		URL:         r.URL,
		CreatedAt:   r.CreatedAt,
		HasPassword: r.HasPassword(),
	}
}
