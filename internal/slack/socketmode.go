package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// reconnectDelay is the pause before re-opening a dropped Socket Mode
// connection.
const reconnectDelay = 3 * time.Second

// SocketModeClient consumes events over a Socket Mode websocket instead of a
// public webhook. It opens a connection with the app-level token, acks every
// envelope, and forwards user messages to the registered MessageFunc.
type SocketModeClient struct {
	appToken string
	baseURL  string
	http     *http.Client
	dialer   *websocket.Dialer
	onMsg    MessageFunc
	logger   zerolog.Logger
}

// NewSocketModeClient creates a Socket Mode consumer.
func NewSocketModeClient(appToken string, onMessage MessageFunc, logger zerolog.Logger, opts ...SocketModeOption) (*SocketModeClient, error) {
	if appToken == "" {
		return nil, fmt.Errorf("app token is required")
	}

	c := &SocketModeClient{
		appToken: appToken,
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		dialer:   websocket.DefaultDialer,
		onMsg:    onMessage,
		logger:   logger.With().Str("component", "slack_socketmode").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SocketModeOption configures a SocketModeClient.
type SocketModeOption func(*SocketModeClient)

// WithSocketModeBaseURL overrides the API endpoint used to open connections.
func WithSocketModeBaseURL(u string) SocketModeOption {
	return func(c *SocketModeClient) { c.baseURL = u }
}

// Run connects and consumes envelopes until the context is cancelled,
// reconnecting on connection loss.
func (c *SocketModeClient) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("Socket Mode connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

type envelope struct {
	EnvelopeID string `json:"envelope_id"`
	Type       string `json:"type"`
	Payload    struct {
		Event messageEvent `json:"event"`
	} `json:"payload"`
}

func (c *SocketModeClient) runOnce(ctx context.Context) error {
	wsURL, err := c.openConnection(ctx)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial socket: %w", err)
	}
	defer conn.Close()

	c.logger.Info().Msg("Socket Mode connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("socket read failed: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed envelope")
			continue
		}

		if env.EnvelopeID != "" {
			ack, _ := json.Marshal(map[string]string{"envelope_id": env.EnvelopeID})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return fmt.Errorf("failed to ack envelope: %w", err)
			}
		}

		switch env.Type {
		case "events_api":
			c.handleEvent(env.Payload.Event)
		case "disconnect":
			c.logger.Info().Msg("Server requested reconnect")
			return nil
		}
	}
}

func (c *SocketModeClient) handleEvent(event messageEvent) {
	if event.Type != "message" {
		return
	}
	if event.Subtype == "bot_message" || event.BotID != "" {
		return
	}
	if event.User == "" || event.Channel == "" {
		return
	}

	go c.onMsg(context.Background(), event.User, event.Channel, event.Text)
}

// openConnection calls apps.connections.open and returns the websocket URL.
func (c *SocketModeClient) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/apps.connections.open", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build connection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.appToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to open connection: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read connection response: %w", err)
	}

	var out struct {
		apiResponse
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode connection response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("apps.connections.open failed: %s", out.Error)
	}
	return out.URL, nil
}
