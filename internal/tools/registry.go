// Package tools provides the tool provider registry and the built-in
// local tools. A provider bundles the tool's model-facing spec, its
// compiled argument schema, and a factory producing the process runner
// that executes one invocation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
)

// RunnerFunc adapts a function to the process.Runner interface.
type RunnerFunc func(ctx context.Context, h *process.Handle) (json.RawMessage, error)

// Run implements process.Runner.
func (f RunnerFunc) Run(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
	return f(ctx, h)
}

// Provider is one registered tool.
type Provider struct {
	Name        string
	Description string

	// Schema is the JSON schema for the tool's arguments.
	Schema json.RawMessage

	// Factory builds the runner for one invocation. Arguments are already
	// schema-validated when the factory is called.
	Factory func(args json.RawMessage) process.Runner

	compiled *jsonschema.Schema
}

// Compiled returns the compiled argument schema, nil when the provider
// declares none.
func (p *Provider) Compiled() *jsonschema.Schema { return p.compiled }

// Spec returns the model-facing tool description.
func (p *Provider) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: p.Name, Description: p.Description, Schema: p.Schema}
}

// Registry maps tool names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register compiles the provider's schema and installs it. Registering a
// name twice replaces the previous provider.
func (r *Registry) Register(p *Provider) error {
	if p.Name == "" {
		return fmt.Errorf("tools: provider has no name")
	}
	if len(p.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(p.Name+".json", strings.NewReader(string(p.Schema))); err != nil {
			return fmt.Errorf("tools: schema for %s: %w", p.Name, err)
		}
		compiled, err := compiler.Compile(p.Name + ".json")
		if err != nil {
			return fmt.Errorf("tools: schema for %s: %w", p.Name, err)
		}
		p.compiled = compiled
	}
	r.mu.Lock()
	r.providers[p.Name] = p
	r.mu.Unlock()
	return nil
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Lookup returns the provider or the canonical not-found error.
func (r *Registry) Lookup(name string) (*Provider, error) {
	if p, ok := r.Get(name); ok {
		return p, nil
	}
	return nil, ndperr.BadToolNotFoundError(name)
}

// Specs returns the model-facing descriptions of all providers, sorted by
// name for stable prompts.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.providers))
	for _, p := range r.providers {
		specs = append(specs, p.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Output is the structured result shape tools use when they return more
// than a bare value: content items with retention modes, optionally
// carrying media. Results that do not decode into this shape are treated
// as a single required text content.
type Output struct {
	Contents []llm.Content `json:"contents"`
}

// MarshalOutput encodes a structured tool output as result content.
func MarshalOutput(contents ...llm.Content) (json.RawMessage, error) {
	return json.Marshal(Output{Contents: contents})
}

// DecodeOutput maps raw result content to llm content items, applying the
// bare-value fallback.
func DecodeOutput(raw json.RawMessage) []llm.Content {
	if len(raw) == 0 {
		return nil
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err == nil && len(out.Contents) > 0 {
		return out.Contents
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []llm.Content{{Mode: llm.ModeRequired, Text: text}}
	}
	return []llm.Content{{Mode: llm.ModeRequired, Text: string(raw)}}
}
