// Package orchestrator ties inbound chat messages to agent runs: it resolves
// the session, loads recent history, drives the run loop, and persists the
// exchange. It never returns an error to the ingress layer; run failures
// surface as a localized fallback reply.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/longnt/sage/internal/observability"
	"github.com/longnt/sage/pkg/agent"
	"github.com/longnt/sage/pkg/session"
	"github.com/longnt/sage/pkg/store"
)

// FallbackReply is returned when a run fails. Diagnostics stay in the logs.
const FallbackReply = "Xin lỗi, đã có lỗi xảy ra khi xử lý tin nhắn của bạn. Vui lòng thử lại sau."

// AgentSelector picks the entry agent for an inbound message. Alternate
// front-ends share this orchestrator by supplying their own selector.
type AgentSelector func(userID, channelID string) *agent.Agent

// Inbound is one conversational message from the ingress layer. Bot-authored
// events are expected to be discarded before reaching this point.
type Inbound struct {
	UserID    string
	ChannelID string
	Text      string
}

// Config holds orchestrator configuration.
type Config struct {
	Sessions *session.Manager
	Runner   *agent.Runner
	Select   AgentSelector
	Model    agent.ModelConfig
	Logger   zerolog.Logger
}

// Orchestrator handles inbound messages end to end.
type Orchestrator struct {
	sessions *session.Manager
	runner   *agent.Runner
	selector AgentSelector
	model    agent.ModelConfig
	logger   zerolog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Select == nil {
		return nil, fmt.Errorf("agent selector is required")
	}
	if cfg.Model.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	return &Orchestrator{
		sessions: cfg.Sessions,
		runner:   cfg.Runner,
		selector: cfg.Select,
		model:    cfg.Model,
		logger:   cfg.Logger,
	}, nil
}

// HandleInbound processes one message and returns the reply text. An empty
// return means there is nothing to post. Failures never propagate: the user
// sees FallbackReply and the session is still touched, so a failed exchange
// keeps an otherwise live conversation out of the eviction sweep.
func (o *Orchestrator) HandleInbound(ctx context.Context, in Inbound) string {
	text := strings.TrimSpace(in.Text)
	if text == "" || in.UserID == "" || in.ChannelID == "" {
		return ""
	}

	key := session.Key(in.UserID, in.ChannelID)
	logger := o.logger.With().
		Str("trace_id", uuid.NewString()).
		Str("session_key", key).
		Logger()

	if _, err := o.sessions.ResolveOrCreate(ctx, key); err != nil {
		// Persistence is best effort. The exchange proceeds without
		// durable history rather than failing the user.
		logger.Error().Err(err).Msg("Failed to resolve session")
	}

	history := o.sessions.History(ctx, key, o.sessions.HistoryLimit())

	root := o.selector(in.UserID, in.ChannelID)
	if root == nil {
		logger.Error().Msg("Agent selector returned no agent")
		return FallbackReply
	}

	start := time.Now()
	result, err := o.runner.Run(ctx, root, agent.RunParams{
		Prompt:     enrichPrompt(in.UserID, text),
		History:    toAgentMessages(history),
		SessionKey: key,
		Config:     o.model,
	})
	agentName := result.Agent
	if agentName == "" {
		agentName = root.Name
	}
	observability.RecordExchange(agentName, time.Since(start), err == nil && result.Status == agent.StatusCompleted)
	if err != nil || result.Status != agent.StatusCompleted {
		logger.Error().
			Err(err).
			Str("status", string(result.Status)).
			Msg("Run failed")
		o.sessions.Touch(ctx, key)
		return FallbackReply
	}

	o.sessions.Append(ctx, key, "user", text)
	o.sessions.Append(ctx, key, "assistant", result.Reply)
	o.sessions.Touch(ctx, key)

	logger.Info().
		Str("agent", result.Agent).
		Int("tool_calls", len(result.ToolCalls)).
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Msg("Exchange completed")

	return result.Reply
}

// enrichPrompt tags the message with a stable user identity so the model can
// attribute context in multi-user channels.
func enrichPrompt(userID, text string) string {
	return fmt.Sprintf("[User ID: %s] %s", userID, text)
}

func toAgentMessages(history []store.Message) []agent.Message {
	if len(history) == 0 {
		return nil
	}
	messages := make([]agent.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, agent.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}
