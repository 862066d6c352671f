package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/longnt/sage/internal/observability"
	"github.com/longnt/sage/pkg/tools"
)

// DefaultRunTimeout bounds a whole run, tool round trips included. A run
// that is still going when it expires fails instead of waiting forever.
const DefaultRunTimeout = 120 * time.Second

// DefaultMaxTurns caps model round trips per run.
const DefaultMaxTurns = 10

// Runner drives agent runs against the tool registry and model providers.
type Runner struct {
	registry        *tools.Registry
	logger          zerolog.Logger
	providerFactory ProviderCreator
	runTimeout      time.Duration
	maxTurns        int

	profiles   []AuthProfile
	profilesMu sync.Mutex
}

// Config holds runner configuration.
type Config struct {
	Registry        *tools.Registry
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	RunTimeout      time.Duration
	MaxTurns        int
}

// NewRunner creates a new Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	factory := cfg.ProviderFactory
	if factory == nil {
		factory = &ProviderFactory{}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}

	return &Runner{
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		providerFactory: factory,
		runTimeout:      cfg.RunTimeout,
		maxTurns:        cfg.MaxTurns,
		profiles:        cfg.AuthProfiles,
	}, nil
}

// Run drives one agent run to completion or failure. Hand-offs switch the
// active agent mid-run; tool calls are dispatched as full batches through
// the registry.
func (r *Runner) Run(ctx context.Context, root *Agent, params RunParams) (RunResult, error) {
	if root == nil {
		return RunResult{Status: StatusFailed}, fmt.Errorf("agent is required")
	}
	if params.Config.Model == "" {
		return RunResult{Status: StatusFailed}, fmt.Errorf("model cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	logger := r.logger.With().
		Str("session_key", params.SessionKey).
		Str("agent", root.Name).
		Logger()

	messages := make([]Message, 0, len(params.History)+1)
	messages = append(messages, params.History...)
	messages = append(messages, Message{Role: "user", Content: params.Prompt})

	active := root
	status := StatusStarted
	var usage TokenUsage
	var allToolCalls []ToolCall

	for turn := 0; turn < r.maxTurns; turn++ {
		response, err := r.completeWithFailover(ctx, Request{
			Model:        params.Config.Model,
			SystemPrompt: active.Instructions,
			Messages:     messages,
			Tools:        r.toolSpecs(active),
			Temperature:  params.Config.Temperature,
			MaxTokens:    params.Config.MaxTokens,
		}, params.Config.MaxRetries, logger)
		if err != nil {
			logger.Error().Err(err).Str("status", string(status)).Msg("Run failed")
			return RunResult{Status: StatusFailed, Agent: active.Name}, err
		}

		usage.Add(response.Usage)

		if len(response.ToolCalls) == 0 {
			logger.Debug().
				Int("turns", turn+1).
				Int("tool_calls", len(allToolCalls)).
				Msg("Run completed")
			return RunResult{
				Reply:     response.Content,
				Status:    StatusCompleted,
				Agent:     active.Name,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		status = StatusAwaitingTools
		allToolCalls = append(allToolCalls, response.ToolCalls...)

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		status = StatusRunningTools
		results, next := r.runToolBatch(ctx, active, response.ToolCalls, logger)

		// Submit the full batch, never a partial one.
		for _, result := range results {
			messages = append(messages, Message{
				Role:       "tool",
				Content:    result.Payload(),
				ToolCallID: result.CallID,
			})
		}

		if next != nil {
			logger.Info().
				Str("from", active.Name).
				Str("to", next.Name).
				Msg("Hand-off")
			active = next
		}
	}

	err := fmt.Errorf("maximum tool turns (%d) exceeded", r.maxTurns)
	logger.Error().Err(err).Msg("Run failed")
	return RunResult{Status: StatusFailed, Agent: active.Name}, err
}

// runToolBatch resolves every call in the batch: hand-off calls are answered
// with an acknowledgement and select the next agent, everything else goes
// through the registry concurrently. Results come back in call order.
func (r *Runner) runToolBatch(ctx context.Context, active *Agent, calls []ToolCall, logger zerolog.Logger) ([]tools.Result, *Agent) {
	handoffs := make(map[string]*Agent, len(active.Handoffs))
	for _, target := range active.Handoffs {
		handoffs[target.HandoffToolName()] = target
	}

	var next *Agent
	results := make([]tools.Result, len(calls))
	var registryCalls []tools.Call
	var registryIdx []int

	for i, call := range calls {
		if target, ok := handoffs[call.Name]; ok {
			if next == nil {
				next = target
			}
			results[i] = tools.Result{
				CallID: call.ID,
				Output: map[string]string{"assistant": target.Name},
			}
			continue
		}
		registryCalls = append(registryCalls, tools.Call{ID: call.ID, Name: call.Name, Args: call.Args})
		registryIdx = append(registryIdx, i)
	}

	if len(registryCalls) > 0 {
		batch := r.registry.DispatchBatch(ctx, registryCalls)
		for j, result := range batch {
			results[registryIdx[j]] = result
			if result.IsError() {
				logger.Warn().
					Str("tool", registryCalls[j].Name).
					Str("error", result.Err).
					Msg("Tool call returned error result")
			}
		}
	}

	return results, next
}

// toolSpecs builds the tool list advertised for an agent: its registry tools
// plus one transfer pseudo-tool per hand-off target.
func (r *Runner) toolSpecs(a *Agent) []ToolSpec {
	specs := make([]ToolSpec, 0, len(a.Tools)+len(a.Handoffs))

	for _, name := range a.Tools {
		def := r.registry.Get(name)
		if def == nil {
			r.logger.Warn().Str("tool", name).Str("agent", a.Name).Msg("Agent references unregistered tool")
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      tools.SchemaMap(*def),
		})
	}

	for _, target := range a.Handoffs {
		specs = append(specs, ToolSpec{
			Name:        target.HandoffToolName(),
			Description: fmt.Sprintf("Transfer the conversation to %s.", target.Name),
			Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		})
	}

	return specs
}

// completeWithFailover tries auth profiles in priority order, skipping those
// in cooldown, until one provider call succeeds.
func (r *Runner) completeWithFailover(ctx context.Context, request Request, maxRetries int, logger zerolog.Logger) (*Response, error) {
	r.profilesMu.Lock()
	profiles := make([]AuthProfile, len(r.profiles))
	copy(profiles, r.profiles)
	r.profilesMu.Unlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			logger.Debug().Str("profile", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			logger.Warn().Str("profile", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		response, err := r.completeWithRetry(ctx, provider, request, maxRetries, logger)
		if err == nil {
			r.markProfileSuccess(profile.ID)
			return response, nil
		}

		lastErr = err
		r.markProfileFailure(profile.ID)
		logger.Warn().Str("profile", profile.ID).Err(err).Msg("Auth profile failed")

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable auth profile")
	}
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// completeWithRetry retries transient provider failures with exponential
// backoff: 1s, 2s, 4s.
func (r *Runner) completeWithRetry(ctx context.Context, provider Provider, request Request, maxRetries int, logger zerolog.Logger) (*Response, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := provider.Complete(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		logger.Info().
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after provider error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

func (r *Runner) markProfileSuccess(profileID string) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount = 0
			r.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(profileID, false)
			return
		}
	}
}

func (r *Runner) markProfileFailure(profileID string) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount++
			cooldown := time.Now().UnixMilli() + int64(60_000*r.profiles[i].FailureCount)
			r.profiles[i].CooldownUntil = &cooldown
			observability.SetProviderCooldown(profileID, true)
			return
		}
	}
}
