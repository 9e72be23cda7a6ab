package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "s3cret"
	id := "msg-1"
	ts := "2026-08-25T12:00:00Z"
	body := []byte(`{"subscription":{"type":"channel.cheer"},"event":{}}`)

	good := sign(secret, id, ts, body)
	if err := VerifySignature([]byte(secret), id, ts, body, good); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tests := []struct {
		name     string
		declared string
	}{
		{"wrong secret", sign("other", id, ts, body)},
		{"tampered body", sign(secret, id, ts, []byte(`{}`))},
		{"empty header", ""},
		{"garbage header", "sha256=zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature([]byte(secret), id, ts, body, tt.declared)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("got %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := CheckTimestamp(now.Add(-time.Minute).Format(time.RFC3339Nano), now); err != nil {
		t.Errorf("fresh timestamp rejected: %v", err)
	}
	if err := CheckTimestamp(now.Add(-time.Hour).Format(time.RFC3339Nano), now); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("stale timestamp accepted: %v", err)
	}
	if err := CheckTimestamp("not-a-time", now); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("unparseable timestamp accepted: %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	if fp := Fingerprint("msg-1", []byte("body")); fp != "msg-1" {
		t.Errorf("message id fingerprint = %q, want msg-1", fp)
	}
	a := Fingerprint("", []byte("body"))
	b := Fingerprint("", []byte("body"))
	c := Fingerprint("", []byte("other"))
	if a != b {
		t.Error("hash fingerprint not stable for identical payloads")
	}
	if a == c {
		t.Error("hash fingerprint identical for distinct payloads")
	}
}

func TestParseNotification(t *testing.T) {
	body := []byte(`{
		"subscription": {"type": "channel.chat.message"},
		"event": {
			"chatter_user_id": "U1",
			"chatter_user_name": "viewer",
			"message": {"text": "hello"}
		}
	}`)
	ev, err := ParseNotification(body, "fp-1")
	if err != nil {
		t.Fatalf("ParseNotification error: %v", err)
	}
	if ev.Kind != "channel.chat.message" {
		t.Errorf("Kind = %q", ev.Kind)
	}
	if ev.SourceUserID != "U1" || ev.SourceUserName != "viewer" {
		t.Errorf("actor = %q/%q, want U1/viewer", ev.SourceUserID, ev.SourceUserName)
	}
	if ev.Fingerprint != "fp-1" {
		t.Errorf("Fingerprint = %q", ev.Fingerprint)
	}
}

func TestParseNotificationCheerActor(t *testing.T) {
	body := []byte(`{
		"subscription": {"type": "channel.cheer"},
		"event": {"user_id": "U1", "user_name": "viewer", "bits": 100}
	}`)
	ev, err := ParseNotification(body, "fp-2")
	if err != nil {
		t.Fatalf("ParseNotification error: %v", err)
	}
	if ev.SourceUserID != "U1" {
		t.Errorf("SourceUserID = %q, want U1", ev.SourceUserID)
	}
}

func TestParseChallenge(t *testing.T) {
	ch, err := ParseChallenge([]byte(`{"challenge":"abc","subscription":{"type":"channel.cheer"}}`))
	if err != nil {
		t.Fatalf("ParseChallenge error: %v", err)
	}
	if ch != "abc" {
		t.Errorf("challenge = %q, want abc", ch)
	}
	if _, err := ParseChallenge([]byte(`{}`)); err == nil {
		t.Error("missing challenge accepted")
	}
}
