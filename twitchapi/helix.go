// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for user id resolution and EventSub webhook subscription management,
// using an app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot)
// OAuth token with chat:read/chat:edit scopes.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	defaultBaseURL  = "https://api.twitch.tv/helix"
)

// Client is a minimal Helix API client authenticated with an app access
// token. Token acquisition and refresh is delegated to the oauth2 client
// credentials flow.
type Client struct {
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client

	tokens oauth2.TokenSource
}

// NewClient builds a client against the production Twitch endpoints.
func NewClient(clientID, clientSecret string) *Client {
	return NewClientWithEndpoints(clientID, clientSecret, defaultTokenURL, defaultBaseURL)
}

// NewClientWithEndpoints is NewClient with overridable endpoints; tests point
// both at local mock servers.
func NewClientWithEndpoints(clientID, clientSecret, tokenURL, baseURL string) *Client {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &Client{
		ClientID: clientID,
		BaseURL:  baseURL,
		tokens:   cc.TokenSource(context.Background()),
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do sends an authenticated Helix request and decodes the JSON response into
// out when out is non-nil. Non-2xx responses become errors carrying the body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("app access token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (c *Client) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users?login="+login, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}
