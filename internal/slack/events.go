package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// maxEventBody bounds the webhook request body.
const maxEventBody = 1 << 20

// MessageFunc receives one user-authored channel message.
type MessageFunc func(ctx context.Context, userID, channelID, text string)

// messageEvent is the inner event of an event_callback envelope.
type messageEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	User    string `json:"user,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
}

type eventEnvelope struct {
	Type      string       `json:"type"`
	Challenge string       `json:"challenge,omitempty"`
	Event     messageEvent `json:"event,omitempty"`
}

// EventsHandler serves the events webhook: it verifies request signatures,
// answers url_verification challenges, and forwards user messages to the
// registered MessageFunc. Events are acknowledged immediately and processed
// asynchronously, so slow runs never trip the platform's delivery timeout.
type EventsHandler struct {
	signingSecret string
	onMessage     MessageFunc
	logger        zerolog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(signingSecret string, onMessage MessageFunc, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		signingSecret: signingSecret,
		onMessage:     onMessage,
		logger:        logger.With().Str("component", "slack_events").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if err := VerifySignature(h.signingSecret, timestamp, signature, body); err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected unsigned event")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(envelope.Challenge))

	case "event_callback":
		h.dispatch(envelope.Event)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// dispatch forwards one inner event. Self-originated messages are discarded
// before they reach the orchestration core.
func (h *EventsHandler) dispatch(event messageEvent) {
	if event.Type != "message" {
		return
	}
	if event.Subtype == "bot_message" || event.BotID != "" {
		h.logger.Debug().Str("channel", event.Channel).Msg("Discarding bot-authored message")
		return
	}
	if event.User == "" || event.Channel == "" {
		return
	}

	go h.onMessage(context.Background(), event.User, event.Channel, event.Text)
}
