package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// DecodeRecord parses a stored value into a LinkRecord. It accepts the
// canonical JSON object form as well as the legacy bare-string form where
// the whole value is just the destination URL. Malformed values are
// normalized the same way as legacy ones: the raw value becomes the URL.
// Decoding therefore never fails; old data keeps resolving.
func DecodeRecord(raw []byte, now time.Time) *LinkRecord {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var rec LinkRecord
		if err := json.Unmarshal(trimmed, &rec); err == nil {
			return &rec
		}
		return legacyRecord(string(raw), now)
	}

	// A JSON-encoded string is the oldest storage format.
	var url string
	if err := json.Unmarshal(trimmed, &url); err == nil {
		return legacyRecord(url, now)
	}

	return legacyRecord(string(raw), now)
}

// EncodeRecord serializes a record to its canonical storage form.
func EncodeRecord(rec *LinkRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func legacyRecord(url string, now time.Time) *LinkRecord {
	return &LinkRecord{
		URL:       url,
		Clicks:    0,
		CreatedAt: now.UnixMilli(),
	}
}
