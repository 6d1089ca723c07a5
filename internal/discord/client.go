// Package discord provides the REST client used by the middleman workflow.
//
// The client wraps the handful of API v10 endpoints the middleman workflow
// calls, authenticated with a bot bearer credential. Responses with non-2xx
// statuses become *APIError values carrying a truncated body; the credential
// itself never appears in errors or logs.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production Discord API endpoint.
const DefaultBaseURL = "https://discord.com/api/v10"

// maxErrBody caps how much of an error response body is retained for
// diagnostics.
const maxErrBody = 512

// Client calls the Discord REST API on behalf of a bot.
// The zero value is not usable; construct with NewClient.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests point this at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient constructs a REST client for the given bot token. An empty token
// yields ErrNotConfigured from every call.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has a bot credential.
func (c *Client) Configured() bool { return c.token != "" }

// CreateMessage posts a message (content and/or embeds) to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, payload MessagePayload) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StartThreadFromMessage derives a thread from an existing message.
func (c *Client) StartThreadFromMessage(ctx context.Context, channelID, messageID string, payload ThreadPayload) (*Channel, error) {
	var ch Channel
	path := fmt.Sprintf("/channels/%s/messages/%s/threads", channelID, messageID)
	if err := c.do(ctx, http.MethodPost, path, payload, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// AddThreadMember adds a user to a thread.
func (c *Client) AddThreadMember(ctx context.Context, threadID, userID string) error {
	path := fmt.Sprintf("/channels/%s/thread-members/%s", threadID, userID)
	return c.do(ctx, http.MethodPut, path, struct{}{}, nil)
}

// CreateReaction adds the bot's own reaction to a message.
func (c *Client) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
		channelID, messageID, url.PathEscape(emoji))
	return c.do(ctx, http.MethodPut, path, struct{}{}, nil)
}

// GetChannel fetches channel metadata; used to verify the bot can reach a
// freshly created thread.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetGuildMember verifies that a user is a member of the guild. A 404 means
// the user is not in the server.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// DeleteChannel deletes a channel or thread.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

// do performs one authenticated API call, encoding body as JSON when non-nil
// and decoding a 2xx response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("discord: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	apiErr := &APIError{
		Status: resp.StatusCode,
		Method: method,
		Path:   path,
		Body:   string(raw),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(raw)
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Str("method", method).
		Str("path", path).
		Str("body", apiErr.Body).
		Msg("discord api error")

	return apiErr
}

// parseRetryAfter extracts the retry_after hint (seconds) from a 429 body.
func parseRetryAfter(raw []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(payload.RetryAfter * float64(time.Second))
}

// StripMention removes Discord mention decorations (<@…>, <@!…>) from a user
// reference, leaving the bare snowflake.
func StripMention(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '@', '!', '>':
			return -1
		}
		return r
	}, s)
}

// MentionUser formats a user mention.
func MentionUser(id string) string { return "<@" + id + ">" }

// MentionRole formats a role mention.
func MentionRole(id string) string { return "<@&" + id + ">" }
