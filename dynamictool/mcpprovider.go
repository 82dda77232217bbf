package dynamictool

import (
	"context"
	"encoding/json"

	"github.com/rocisdk/agentcore/mcp"
)

// mcpProvider adapts an *mcp.Aggregator to the Provider interface, so its
// routed tools can be merged into a run's tool.Registry the same way any
// other dynamic tool source would be.
type mcpProvider struct {
	agg *mcp.Aggregator
}

// NewMCPProvider wraps agg as a Provider.
func NewMCPProvider(agg *mcp.Aggregator) Provider {
	return &mcpProvider{agg: agg}
}

// ListDynamicTools implements Provider by refreshing the aggregator's route
// table and translating each Route into a Descriptor. MCP tool parameter
// schemas are not tracked by mcp.Route today (the aggregator only tracks
// routing, not schema) so Parameters is left empty, meaning validation at
// the tool.Parameters.Validate layer accepts any object; the upstream
// server still performs its own argument checking.
func (p *mcpProvider) ListDynamicTools(ctx context.Context) ([]Descriptor, error) {
	routes, err := p.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(routes))
	for _, r := range routes {
		out = append(out, Descriptor{Name: r.ExposedName})
	}
	return out, nil
}

// ExecuteDynamicTool implements Provider by dispatching through the
// aggregator's ExecuteTool, preferring structured_content when the
// upstream server supplied it (spec.md §4.4 step 3).
func (p *mcpProvider) ExecuteDynamicTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	resp, err := p.agg.ExecuteTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	if len(resp.Structured) > 0 {
		return resp.Structured, nil
	}
	return resp.Result, nil
}
