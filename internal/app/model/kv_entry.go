package model

import "time"

// KVEntry is the relational row backing the Postgres store adapter. The
// schema mirrors the key-value substrate: an opaque value plus the native
// expiry column and the listing metadata sidecar.
type KVEntry struct {
	Key       string     `gorm:"primaryKey;size:128"`
	Value     []byte     `gorm:"type:bytea;not null"`
	Metadata  []byte     `gorm:"type:jsonb"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

// TableName pins the table name so raw queries and migrations agree.
func (KVEntry) TableName() string { return "kv_entries" }
