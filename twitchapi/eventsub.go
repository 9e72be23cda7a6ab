package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Subscription is one EventSub subscription as reported by Helix.
type Subscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

// subscriptionSpec is one webhook subscription the relay wants to exist.
type subscriptionSpec struct {
	Type      string
	Version   string
	Condition map[string]string
}

// wantedSubscriptions are the event types the relay consumes. The follow
// subscription (v2) and chat messages both require a second user in the
// condition; the bot's user id serves for both.
func wantedSubscriptions(broadcasterID, botUserID string) []subscriptionSpec {
	return []subscriptionSpec{
		{
			Type:    "channel.chat.message",
			Version: "1",
			Condition: map[string]string{
				"broadcaster_user_id": broadcasterID,
				"user_id":             botUserID,
			},
		},
		{
			Type:      "channel.cheer",
			Version:   "1",
			Condition: map[string]string{"broadcaster_user_id": broadcasterID},
		},
		{
			Type:    "channel.follow",
			Version: "2",
			Condition: map[string]string{
				"broadcaster_user_id": broadcasterID,
				"moderator_user_id":   botUserID,
			},
		},
		{
			Type:      "channel.subscribe",
			Version:   "1",
			Condition: map[string]string{"broadcaster_user_id": broadcasterID},
		},
	}
}

// ListSubscriptions returns all EventSub subscriptions for this client id.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	after := ""
	for {
		path := "/eventsub/subscriptions"
		if after != "" {
			path += "?after=" + after
		}
		var body struct {
			Data       []Subscription `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
			return nil, err
		}
		subs = append(subs, body.Data...)
		if body.Pagination.Cursor == "" {
			return subs, nil
		}
		after = body.Pagination.Cursor
	}
}

// CreateSubscription registers one webhook subscription.
func (c *Client) CreateSubscription(ctx context.Context, spec subscriptionSpec, callbackURL, secret string) error {
	payload := map[string]any{
		"type":      spec.Type,
		"version":   spec.Version,
		"condition": spec.Condition,
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callbackURL,
			"secret":   secret,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", bytes.NewReader(b), nil); err != nil {
		return fmt.Errorf("create %s subscription: %w", spec.Type, err)
	}
	return nil
}

// ReconcileSubscriptions makes the set of webhook subscriptions match what
// the relay needs for broadcasterID: existing enabled or pending ones are
// kept, missing ones are created. Stale subscriptions for other callbacks
// are left alone.
func (c *Client) ReconcileSubscriptions(ctx context.Context, broadcasterID, botUserID, callbackURL, secret string) error {
	existing, err := c.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		if s.Status == "enabled" || s.Status == "webhook_callback_verification_pending" {
			if s.Condition["broadcaster_user_id"] == broadcasterID {
				have[s.Type] = true
			}
		}
	}
	for _, spec := range wantedSubscriptions(broadcasterID, botUserID) {
		if have[spec.Type] {
			continue
		}
		if err := c.CreateSubscription(ctx, spec, callbackURL, secret); err != nil {
			return err
		}
		slog.Info("created eventsub subscription",
			slog.String("component", "twitchapi"), slog.String("type", spec.Type))
	}
	return nil
}
