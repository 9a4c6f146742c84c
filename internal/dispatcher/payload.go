package dispatcher

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/tunahanbr/willhaben/internal/platform/event"
)

// payload is the wire shape of an outbox event delivered to a subscriber.
// Field order doesn't matter for decoding, but canonicalPayload below
// re-marshals through a sorted-key map so the signed bytes are stable
// regardless of struct field order or encoding/json version.
type payload struct {
	EventID         string              `json:"eventId"`
	EventType       event.ChangeType    `json:"eventType"`
	ListingID       string              `json:"listingId"`
	Source          string              `json:"source"`
	ChangedFields   []event.FieldChange `json:"changedFields"`
	FieldHashBefore string              `json:"fieldHashBefore,omitempty"`
	FieldHashAfter  string              `json:"fieldHashAfter"`
	DetectedAt      time.Time           `json:"detectedAt"`
	Version         int64               `json:"version"`
	Confidence      float64             `json:"confidence"`
	Significance    event.Significance  `json:"significance"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// canonicalPayload serializes a ChangeEvent into the signed webhook body:
// a JSON object with lexicographically sorted keys, so a subscriber that
// replays HMAC over the received bytes reproduces the same digest.
func canonicalPayload(e *event.ChangeEvent, now time.Time) ([]byte, error) {
	p := payload{
		EventID:         e.EventID,
		EventType:       e.EventType,
		ListingID:       e.ListingID,
		Source:          e.Source,
		ChangedFields:   e.ChangedFields,
		FieldHashBefore: e.FieldHashBefore,
		FieldHashAfter:  e.FieldHashAfter,
		DetectedAt:      e.DetectedAt,
		Version:         e.Version,
		Confidence:      e.Confidence,
		Significance:    e.Significance,
		Metadata:        e.Metadata,
		Timestamp:       now,
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(asMap))
	for k := range asMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, _ := json.Marshal(k)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(asMap[k])
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// sign computes the webhook signature header value for body under secret:
// "sha256=" followed by the lowercase hex HMAC-SHA256 digest. An empty
// secret yields an empty signature (subscriber configured without one).
func sign(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verify reproduces sign and compares in constant time; it is unexported and
// used by this package's own delivery tests.
func verify(secret string, body []byte, signature string) bool {
	expected := sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
