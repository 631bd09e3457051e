package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// SharePayload is the transient wire record the share extension writes into
// the cross-process mailbox. Timestamps are epoch seconds; optional fields
// must round-trip exactly, including when absent.
type SharePayload struct {
	Content      string  `json:"content"`
	URL          *string `json:"url,omitempty"`
	Preview      *string `json:"preview,omitempty"`
	SnoozedUntil int64   `json:"snoozedUntil"`
	SavedAt      int64   `json:"savedAt"`
}

// SnoozedUntilTime converts the epoch-second snooze hint. Zero means none.
func (p SharePayload) SnoozedUntilTime() time.Time {
	if p.SnoozedUntil == 0 {
		return time.Time{}
	}
	return time.Unix(p.SnoozedUntil, 0)
}

// SavedAtTime converts the epoch-second capture timestamp.
func (p SharePayload) SavedAtTime() time.Time {
	return time.Unix(p.SavedAt, 0)
}

// EncodeSharePayload serializes a single mailbox record.
func EncodeSharePayload(p SharePayload) ([]byte, error) {
	return sonic.Marshal(p)
}

// DecodeSharePayload parses a single mailbox record.
func DecodeSharePayload(data []byte) (SharePayload, error) {
	var p SharePayload
	err := sonic.Unmarshal(data, &p)
	return p, err
}
