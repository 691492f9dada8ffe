// Package webhook delivers signed event notifications to the endpoints an
// operator configured. Each delivery is an HMAC-SHA256 signed POST retried
// with exponential backoff; the outcome of every attempt is kept in a small
// in-memory log for the admin API.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EventPrescriptionSubmitted = "prescription.submitted"
	EventPrescriptionDeclined  = "prescription.declined"
	EventQueueItemProcessed    = "queue_item.processed"
)

// Endpoint is a delivery destination. Events holds subscription patterns;
// an empty list subscribes to everything.
type Endpoint struct {
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events,omitempty"`
}

// Event is the JSON body posted to endpoints.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	ItemKind  string          `json:"item_kind,omitempty"`
	SourceID  string          `json:"source_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryAttempt records one POST to one endpoint.
type DeliveryAttempt struct {
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	URL        string        `json:"url"`
	Attempt    int           `json:"attempt"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ns"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseEndpoints builds endpoints from configured URLs. A URL may carry a
// subscription list after a '|': "https://hooks.example.com/rx|prescription.*".
func ParseEndpoints(raw []string, secret string) ([]Endpoint, error) {
	var out []Endpoint
	for _, r := range raw {
		target, patterns, _ := strings.Cut(strings.TrimSpace(r), "|")
		if err := validateURL(target); err != nil {
			return nil, err
		}
		ep := Endpoint{URL: target, Secret: secret}
		for _, p := range strings.Split(patterns, ";") {
			if p = strings.TrimSpace(p); p != "" {
				ep.Events = append(ep.Events, p)
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// eventMatches reports whether a subscription pattern covers the event type.
// Patterns are exact ("prescription.submitted"), prefix ("prescription.*"),
// suffix ("*.declined") or "*".
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) subscribes(eventType string) bool {
	return Subscribed(ep.Events, eventType)
}

// Subscribed reports whether any of patterns covers eventType. An empty
// list covers everything.
func Subscribed(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}
