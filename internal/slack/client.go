// Package slack wraps the messaging platform surface: the Web API client,
// the events webhook with request signing, a Socket Mode transport, and the
// markup conversion applied to outbound replies.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Web API endpoint.
const DefaultBaseURL = "https://slack.com/api"

// ReplyAttribution is appended to every posted reply as a context block.
const ReplyAttribution = "Made by LongNT's AI assistant"

// Client is a minimal Web API client covering the methods the tools and the
// reply path need.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Web API client authenticated with a bot token.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HistoryMessage is one channel message.
type HistoryMessage struct {
	TS      string `json:"ts"`
	Text    string `json:"text"`
	User    string `json:"user,omitempty"`
	Subtype string `json:"subtype,omitempty"`
}

// Channel is one workspace conversation.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private,omitempty"`
}

// User is one workspace member.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot,omitempty"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ConversationsHistory fetches up to limit messages from a channel, no older
// than the given time.
func (c *Client) ConversationsHistory(ctx context.Context, channelID string, limit int, oldest time.Time) ([]HistoryMessage, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("oldest", strconv.FormatInt(oldest.Unix(), 10))

	var out struct {
		apiResponse
		Messages []HistoryMessage `json:"messages"`
	}
	if err := c.get(ctx, "conversations.history", params, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ConversationsList fetches the public and private channels visible to the
// bot.
func (c *Client) ConversationsList(ctx context.Context) ([]Channel, error) {
	params := url.Values{}
	params.Set("types", "public_channel,private_channel")

	var out struct {
		apiResponse
		Channels []Channel `json:"channels"`
	}
	if err := c.get(ctx, "conversations.list", params, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// UsersList fetches workspace members, excluding bot accounts and the
// reserved USLACKBOT account.
func (c *Client) UsersList(ctx context.Context) ([]User, error) {
	var out struct {
		apiResponse
		Members []User `json:"members"`
	}
	if err := c.get(ctx, "users.list", nil, &out); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(out.Members))
	for _, u := range out.Members {
		if u.IsBot || u.ID == "USLACKBOT" {
			continue
		}
		users = append(users, User{ID: u.ID, Name: u.Name})
	}
	return users, nil
}

// PostReply posts a reply to a channel as a section block with a divider and
// an attribution footer. The text is converted to mrkdwn first.
func (c *Client) PostReply(ctx context.Context, channelID, text string) error {
	body := map[string]interface{}{
		"channel": channelID,
		"text":    text,
		"blocks": []map[string]interface{}{
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": MarkdownToMrkdwn(text)},
			},
			{"type": "divider"},
			{
				"type": "context",
				"elements": []map[string]string{
					{"type": "mrkdwn", "text": ReplyAttribution},
				},
			},
		},
	}

	var out apiResponse
	return c.postJSON(ctx, "chat.postMessage", body, &out)
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(method, req, out)
}

func (c *Client) postJSON(ctx context.Context, method string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(method, req, out)
}

func (c *Client) do(method string, req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	// The platform signals API-level failure inside a 200 response.
	var status apiResponse
	if err := json.Unmarshal(data, &status); err == nil && !status.OK {
		return fmt.Errorf("%s failed: %s", method, status.Error)
	}

	c.logger.Debug().Str("method", method).Msg("API call succeeded")
	return nil
}
