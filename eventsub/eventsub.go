// Package eventsub authenticates and parses Twitch EventSub webhook
// deliveries and deduplicates redelivered events.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Header names used by EventSub webhook transport.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// Message types carried in the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"
)

// ErrUnauthenticated is returned when the declared signature does not match
// the payload. The delivery must be dropped without any further processing.
var ErrUnauthenticated = errors.New("invalid webhook signature")

// maxMessageAge bounds how old a delivery's timestamp may be. Replays older
// than this are rejected even if they fall outside the dedup window.
const maxMessageAge = 10 * time.Minute

// Event is a verified, parsed inbound event. It is consumed once by the
// relay's inbound pipeline and then discarded; only its fingerprint is
// retained (in the dedup cache).
type Event struct {
	Fingerprint    string
	SourcePlatform string
	SourceUserID   string
	SourceUserName string
	Kind           string
	Payload        map[string]any
}

// VerifySignature computes the expected EventSub HMAC over
// messageID + timestamp + body and compares it against the declared header
// value in constant time. It returns ErrUnauthenticated on any mismatch.
func VerifySignature(secret []byte, messageID, timestamp string, body []byte, declared string) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(declared)) {
		return ErrUnauthenticated
	}
	return nil
}

// CheckTimestamp rejects deliveries whose declared timestamp is missing,
// unparseable, or older than maxMessageAge.
func CheckTimestamp(timestamp string, now time.Time) error {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrUnauthenticated)
	}
	if now.Sub(t) > maxMessageAge {
		return fmt.Errorf("%w: stale timestamp", ErrUnauthenticated)
	}
	return nil
}

// Fingerprint derives a stable identifier for dedup: the platform-provided
// message id when present, else a hash of the raw payload.
func Fingerprint(messageID string, body []byte) string {
	if messageID != "" {
		return messageID
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// notificationBody mirrors the envelope of an EventSub notification.
type notificationBody struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Challenge string         `json:"challenge"`
	Event     map[string]any `json:"event"`
}

// ParseChallenge extracts the verification challenge from a
// webhook_callback_verification body.
func ParseChallenge(body []byte) (string, error) {
	var nb notificationBody
	if err := json.Unmarshal(body, &nb); err != nil {
		return "", fmt.Errorf("parse verification body: %w", err)
	}
	if nb.Challenge == "" {
		return "", errors.New("verification body missing challenge")
	}
	return nb.Challenge, nil
}

// ParseNotification turns a verified notification body into an Event.
// The event kind is carried through untranslated; unknown kinds are a
// translator concern, never a parse failure.
func ParseNotification(body []byte, fingerprint string) (Event, error) {
	var nb notificationBody
	if err := json.Unmarshal(body, &nb); err != nil {
		return Event{}, fmt.Errorf("parse notification body: %w", err)
	}
	if nb.Subscription.Type == "" {
		return Event{}, errors.New("notification missing subscription type")
	}
	ev := Event{
		Fingerprint:    fingerprint,
		SourcePlatform: "stream",
		Kind:           nb.Subscription.Type,
		Payload:        nb.Event,
	}
	ev.SourceUserID, ev.SourceUserName = eventActor(nb.Event)
	return ev, nil
}

// eventActor picks the acting user out of an event payload. Chat events name
// the actor chatter_user_*, everything else user_*.
func eventActor(payload map[string]any) (id, name string) {
	if v, ok := payload["chatter_user_id"].(string); ok && v != "" {
		id = v
		name, _ = payload["chatter_user_name"].(string)
		return id, name
	}
	id, _ = payload["user_id"].(string)
	name, _ = payload["user_name"].(string)
	return id, name
}
