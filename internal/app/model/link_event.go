package model

import "time"

// LinkEvent announces a lifecycle transition of a short link so that
// peer instances can invalidate caches.
type LinkEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Slug      string    `json:"slug"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	LinkEventCreated   = "created"
	LinkEventDeleted   = "deleted"
	LinkEventExhausted = "exhausted"

	LinkStreamName     = "LINKS"
	LinkStreamSubject  = "links.events"
	LinkStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
