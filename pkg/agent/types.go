package agent

import (
	"strings"
)

// Agent is a static descriptor: instructions, permitted tools, and optional
// hand-off targets. Descriptors are built at startup and never mutated.
type Agent struct {
	Name         string
	Instructions string
	Tools        []string
	Handoffs     []*Agent
}

// HandoffToolName returns the pseudo-tool name advertised to the model for
// transferring control to this agent.
func (a *Agent) HandoffToolName() string {
	slug := strings.ToLower(a.Name)
	slug = strings.ReplaceAll(slug, " ", "_")
	return "transfer_to_" + slug
}

// Status tracks where a run is in its lifecycle.
type Status string

const (
	StatusStarted       Status = "started"
	StatusAwaitingTools Status = "awaiting_tools"
	StatusRunningTools  Status = "running_tools"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Message is one turn in the provider conversation.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model-issued request to execute a named tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// TokenUsage tracks token consumption for a run.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage across provider calls.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ModelConfig configures a provider call.
type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
}

// RunParams are the inputs for one run.
type RunParams struct {
	Prompt     string
	History    []Message
	SessionKey string
	Config     ModelConfig
}

// RunResult is the outcome of one run.
type RunResult struct {
	Reply     string
	Status    Status
	Agent     string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// IsRetryableError reports whether a provider error is worth retrying:
// transient network failures, rate limits, and 5xx responses.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"connection reset", "timeout", "temporarily unavailable",
		"429", "rate limit",
		"500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
