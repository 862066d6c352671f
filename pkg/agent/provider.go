package agent

import (
	"context"
	"fmt"
)

// Provider is a model backend capable of one completion round trip.
type Provider interface {
	// Complete runs one model turn.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// ToolSpec is a tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Request carries one provider call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
}

// Response is the provider's answer: either a final text or tool calls.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// AuthProfile holds credentials for one provider, with failover bookkeeping.
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "openai", "anthropic"
	APIKey        string `json:"api_key"`
	Priority      int    `json:"priority"`
	FailureCount  int    `json:"failure_count"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
}

// ProviderCreator builds providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (Provider, error)
}

// ProviderFactory is the default ProviderCreator.
type ProviderFactory struct{}

// NewProvider creates a provider for the profile's backend.
func (f *ProviderFactory) NewProvider(profile AuthProfile) (Provider, error) {
	switch profile.Provider {
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
