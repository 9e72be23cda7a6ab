package twitchapi

import (
	"context"
	"slices"
	"testing"

	"github.com/onnwee/factorio-relay/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.MockHelix) {
	t.Helper()
	mock := testutil.NewMockHelix(t)
	c := NewClientWithEndpoints("cid", "secret", mock.TokenURL, mock.BaseURL)
	return c, mock
}

func TestGetUserID(t *testing.T) {
	c, mock := newTestClient(t)
	mock.AddUser("somestreamer", "12345")

	id, err := c.GetUserID(context.Background(), "somestreamer")
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if id != "12345" {
		t.Errorf("id = %q, want 12345", id)
	}
}

func TestGetUserIDNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.GetUserID(context.Background(), "ghost"); err == nil {
		t.Error("unknown login resolved, want error")
	}
}

func TestReconcileCreatesAllWhenEmpty(t *testing.T) {
	c, mock := newTestClient(t)

	err := c.ReconcileSubscriptions(context.Background(), "12345", "999", "https://relay.example/webhook/eventsub", "s3cret")
	if err != nil {
		t.Fatalf("ReconcileSubscriptions: %v", err)
	}

	got := mock.Created()
	want := []string{"channel.chat.message", "channel.cheer", "channel.follow", "channel.subscribe"}
	if !slices.Equal(got, want) {
		t.Errorf("created = %v, want %v", got, want)
	}
}

func TestReconcileSkipsExistingEnabled(t *testing.T) {
	c, mock := newTestClient(t)
	mock.AddSubscription("channel.cheer", "12345", "enabled")
	mock.AddSubscription("channel.follow", "12345", "webhook_callback_verification_pending")

	err := c.ReconcileSubscriptions(context.Background(), "12345", "999", "https://relay.example/webhook/eventsub", "s3cret")
	if err != nil {
		t.Fatalf("ReconcileSubscriptions: %v", err)
	}

	got := mock.Created()
	want := []string{"channel.chat.message", "channel.subscribe"}
	if !slices.Equal(got, want) {
		t.Errorf("created = %v, want %v", got, want)
	}
}

func TestReconcileIgnoresOtherBroadcaster(t *testing.T) {
	c, mock := newTestClient(t)
	mock.AddSubscription("channel.cheer", "other-channel", "enabled")

	err := c.ReconcileSubscriptions(context.Background(), "12345", "999", "https://relay.example/webhook/eventsub", "s3cret")
	if err != nil {
		t.Fatalf("ReconcileSubscriptions: %v", err)
	}
	if got := mock.Created(); len(got) != 4 {
		t.Errorf("created %d subscriptions, want all 4: %v", len(got), got)
	}
}
