// Package dynamictool adapts a runtime-discovered tool source — most
// directly, an mcp.Aggregator — behind the static tool.Tool contract, so
// the turn loop and tool dispatcher need only one dispatch path regardless
// of whether a tool was registered ahead of time or discovered at run
// start (spec.md §3 "DynamicTool").
package dynamictool

import (
	"context"
	"encoding/json"

	"github.com/rocisdk/agentcore/tool"
)

// Provider is the capability a dynamic tool source implements: list the
// tools currently available and execute one of them by its exposed name.
// mcp.Aggregator satisfies this shape directly (ListTools/ExecuteTool),
// modulo the thin signature adaptation done in the MCP-specific
// constructor below.
type Provider interface {
	ListDynamicTools(ctx context.Context) ([]Descriptor, error)
	ExecuteDynamicTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Descriptor is one dynamically discovered tool's static metadata.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// adapter presents one Descriptor from a Provider as a tool.Tool. It holds
// no closed-over state of its own beyond the provider and tool name, so it
// stays safe for concurrent Execute calls exactly as tool.Tool requires:
// the provider is responsible for its own internal concurrency.
type adapter struct {
	provider Provider
	name     string
	desc     string
	params   tool.Parameters
}

// Name implements tool.Tool.
func (a *adapter) Name() string { return a.name }

// Description implements tool.Tool.
func (a *adapter) Description() string { return a.desc }

// Parameters implements tool.Tool.
func (a *adapter) Parameters() tool.Parameters { return a.params }

// Execute implements tool.Tool by routing through the provider. Dynamic
// tools do not support progress callbacks at this layer; update is ignored.
func (a *adapter) Execute(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
	return a.provider.ExecuteDynamicTool(ctx, a.name, args)
}

// Tools lists every tool p currently exposes, adapted to tool.Tool.
// Callers typically register the result into a tool.Registry alongside
// statically configured tools before starting a run.
func Tools(ctx context.Context, p Provider) ([]tool.Tool, error) {
	descriptors, err := p.ListDynamicTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, &adapter{
			provider: p,
			name:     d.Name,
			desc:     d.Description,
			params:   tool.Parameters{Schema: d.Parameters},
		})
	}
	return out, nil
}
