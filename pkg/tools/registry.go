// Package tools holds the registry of model-callable functions and the
// dispatch path that executes them with error isolation.
//
// Invariants:
// - Unknown tool names and handler failures produce error-shaped results,
//   never a propagated error or panic.
// - A batch dispatch returns one result per call, matched by call id, and
//   only returns once every call has resolved.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/longnt/sage/internal/observability"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`

	// Items constrains array element types, e.g. "integer".
	Items string `json:"items,omitempty"`
}

// Handler executes a tool. Returned errors are converted into error-shaped
// results by the dispatcher.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition declares a tool's name, schema, and executable.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Call is one model-issued tool invocation.
type Call struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Result is the outcome of one call. Exactly one of Output and Err is set.
type Result struct {
	CallID string
	Output interface{}
	Err    string
}

// IsError reports whether the result is error-shaped.
func (r Result) IsError() bool {
	return r.Err != ""
}

// Payload renders the result as the JSON string submitted back to the model.
// Errors take the {"error": reason} shape so the model can self-correct.
func (r Result) Payload() string {
	var v interface{} = r.Output
	if r.IsError() {
		v = map[string]string{"error": r.Err}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"unserializable tool output: %s"}`, err)
	}
	return string(data)
}

// Registry maps tool names to definitions with compiled parameter schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// SetTimeout overrides the per-call execution bound.
func (r *Registry) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register validates and adds a tool definition. Registering a duplicate
// name is an error; the tool surface is fixed at startup.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Dispatch executes one call and always returns a result carrying the
// caller's call id. The model's requested name is untrusted input, so an
// unknown name is an error result rather than a failure.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if def == nil {
		r.logger.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		return Result{CallID: call.ID, Err: fmt.Sprintf("unknown function: %s", call.Name)}
	}

	if err := validateArgs(schema, call.Args); err != nil {
		r.logger.Warn().Str("tool", call.Name).Err(err).Msg("Tool argument validation failed")
		return Result{CallID: call.ID, Err: err.Error()}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output, err := r.run(execCtx, def, call.Args)

	duration := time.Since(start)
	observability.RecordToolExecution(call.Name, duration, err == nil)
	if err != nil {
		r.logger.Error().
			Str("tool", call.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		return Result{CallID: call.ID, Err: err.Error()}
	}

	r.logger.Debug().
		Str("tool", call.Name).
		Dur("duration", duration).
		Msg("Tool execution completed")

	return Result{CallID: call.ID, Output: output}
}

// run executes the handler and converts panics into errors so a misbehaving
// tool cannot take down an in-flight round trip.
func (r *Registry) run(ctx context.Context, def *Definition, args map[string]interface{}) (interface{}, error) {
	type outcome struct {
		output interface{}
		err    error
	}

	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("tool %s panicked: %v", def.Name, rec)}
			}
		}()
		output, err := def.Handler(ctx, args)
		ch <- outcome{output: output, err: err}
	}()

	select {
	case o := <-ch:
		return o.output, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tool %s timed out", def.Name)
	}
}

// DispatchBatch executes every call concurrently and returns results in
// input order once the whole batch has resolved. Partial batches are never
// returned.
func (r *Registry) DispatchBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = r.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
		if p.Items != "" && !validTypes[p.Items] {
			return fmt.Errorf("invalid array item type %q for %s", p.Items, p.Name)
		}
	}

	return nil
}

// SchemaMap renders the JSON-Schema object advertised to the model.
func SchemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Items != "" {
			prop["items"] = map[string]interface{}{"type": p.Items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := SchemaMap(def)
	schemaMap["additionalProperties"] = false

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := []string{}
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("argument validation failed: %v", msgs)
	}

	return nil
}
