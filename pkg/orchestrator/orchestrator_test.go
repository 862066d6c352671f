package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longnt/sage/pkg/agent"
	"github.com/longnt/sage/pkg/session"
	"github.com/longnt/sage/pkg/store"
	"github.com/longnt/sage/pkg/tools"
)

type scriptedProvider struct {
	mu       sync.Mutex
	script   []func() (*agent.Response, error)
	requests []agent.Request
	calls    int
}

func (p *scriptedProvider) Complete(_ context.Context, request agent.Request) (*agent.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, request)
	if p.calls >= len(p.script) {
		return nil, errors.New("script exhausted")
	}
	step := p.script[p.calls]
	p.calls++
	return step()
}

func (p *scriptedProvider) Name() string { return "scripted" }

type fixedCreator struct{ provider agent.Provider }

func (c *fixedCreator) NewProvider(agent.AuthProfile) (agent.Provider, error) {
	return c.provider, nil
}

func reply(content string) func() (*agent.Response, error) {
	return func() (*agent.Response, error) {
		return &agent.Response{Content: content}, nil
	}
}

func setupOrchestrator(t *testing.T, provider agent.Provider) (*Orchestrator, *session.Manager) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions, err := session.NewManager(st, session.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)

	runner, err := agent.NewRunner(agent.Config{
		Registry:        tools.NewRegistry(zerolog.Nop()),
		Logger:          zerolog.Nop(),
		AuthProfiles:    []agent.AuthProfile{{ID: "p1", Provider: "openai", APIKey: "k", Priority: 1}},
		ProviderFactory: &fixedCreator{provider: provider},
	})
	require.NoError(t, err)

	assistant := &agent.Agent{Name: "Assistant", Instructions: "You help."}
	o, err := New(Config{
		Sessions: sessions,
		Runner:   runner,
		Select:   func(_, _ string) *agent.Agent { return assistant },
		Model:    agent.ModelConfig{Model: "gpt-4o", MaxRetries: 1},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	return o, sessions
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHandleInboundHappyPath(t *testing.T) {
	provider := &scriptedProvider{script: []func() (*agent.Response, error){
		reply("Chào bạn!"),
	}}
	o, sessions := setupOrchestrator(t, provider)

	out := o.HandleInbound(context.Background(), Inbound{
		UserID:    "U123",
		ChannelID: "C456",
		Text:      "hello",
	})

	assert.Equal(t, "Chào bạn!", out)

	// Prompt carries the user identity tag.
	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Messages, 1)
	assert.Equal(t, "[User ID: U123] hello", provider.requests[0].Messages[0].Content)

	// Both turns are persisted.
	history := sessions.History(context.Background(), session.Key("U123", "C456"), 10)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "Chào bạn!", history[1].Content)
}

func TestHandleInboundCarriesHistory(t *testing.T) {
	provider := &scriptedProvider{script: []func() (*agent.Response, error){
		reply("first"),
		reply("second"),
	}}
	o, _ := setupOrchestrator(t, provider)

	in := Inbound{UserID: "U1", ChannelID: "C1", Text: "one"}
	o.HandleInbound(context.Background(), in)

	in.Text = "two"
	o.HandleInbound(context.Background(), in)

	require.Len(t, provider.requests, 2)
	messages := provider.requests[1].Messages
	// Prior exchange precedes the new tagged prompt.
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "first", messages[1].Content)
	assert.Equal(t, "[User ID: U1] two", messages[2].Content)
}

func TestHandleInboundFailureReturnsFallback(t *testing.T) {
	provider := &scriptedProvider{script: []func() (*agent.Response, error){
		func() (*agent.Response, error) { return nil, errors.New("401 invalid api key") },
	}}
	o, sessions := setupOrchestrator(t, provider)

	out := o.HandleInbound(context.Background(), Inbound{
		UserID:    "U1",
		ChannelID: "C1",
		Text:      "hello",
	})

	assert.Equal(t, FallbackReply, out)

	// The failed exchange is not persisted, but the session stays live.
	key := session.Key("U1", "C1")
	assert.Empty(t, sessions.History(context.Background(), key, 10))
	assert.Equal(t, 1, sessions.Len())
}

func TestHandleInboundIgnoresBlankInput(t *testing.T) {
	provider := &scriptedProvider{}
	o, _ := setupOrchestrator(t, provider)

	assert.Empty(t, o.HandleInbound(context.Background(), Inbound{UserID: "U1", ChannelID: "C1", Text: "   "}))
	assert.Empty(t, o.HandleInbound(context.Background(), Inbound{ChannelID: "C1", Text: "hi"}))
	assert.Empty(t, o.HandleInbound(context.Background(), Inbound{UserID: "U1", Text: "hi"}))
	assert.Zero(t, provider.calls)
}

func TestHandleInboundSessionReuse(t *testing.T) {
	provider := &scriptedProvider{script: []func() (*agent.Response, error){
		reply("a"), reply("b"),
	}}
	o, sessions := setupOrchestrator(t, provider)

	in := Inbound{UserID: "U1", ChannelID: "C1", Text: "x"}
	o.HandleInbound(context.Background(), in)
	o.HandleInbound(context.Background(), in)

	assert.Equal(t, 1, sessions.Len())
}
