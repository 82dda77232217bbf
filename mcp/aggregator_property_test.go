package mcp_test

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rocisdk/agentcore/mcp"
)

// toolSet generates a small, non-empty set of distinct tool names for one
// server, so ListTools always has something to namespace.
func toolSet() gopter.Gen {
	return gen.SliceOfN(3, gen.OneConstOf("search", "fetch", "list", "create", "delete")).
		Map(func(names []string) []string {
			seen := make(map[string]bool, len(names))
			var out []string
			for _, n := range names {
				if !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
			if len(out) == 0 {
				out = []string{"search"}
			}
			return out
		})
}

// TestAggregatorRoutingProperties verifies spec.md §8's MCP aggregator
// invariant: every list_tools exposed_name is unique and sorted, and every
// exposed_name resolves through RouteFor to the same (server_id,
// upstream_name) pair used for dispatch, across any number of servers each
// contributing their own distinct tool names.
func TestAggregatorRoutingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exposed names are unique and sorted, and route_for matches dispatch", prop.ForAll(
		func(serverCount int, toolsPerServer [][]string) bool {
			agg := mcp.NewAggregator()
			clients := make(map[string]*fakeClient, serverCount)
			for i := 0; i < serverCount; i++ {
				id := fmt.Sprintf("server%d", i)
				tools := make([]mcp.ToolDescriptor, 0, len(toolsPerServer[i%len(toolsPerServer)]))
				for _, name := range toolsPerServer[i%len(toolsPerServer)] {
					tools = append(tools, mcp.ToolDescriptor{Name: name})
				}
				c := &fakeClient{tools: tools}
				clients[id] = c
				if err := agg.RegisterServer(id, "", c); err != nil {
					return false
				}
			}

			routes, err := agg.ListTools(context.Background())
			if err != nil {
				// Name collisions across servers (two servers sharing a
				// tool name never happens here since each server's id
				// prefixes its own names) are the only ListTools failure
				// mode; anything else is unexpected.
				return false
			}

			seen := make(map[string]bool, len(routes))
			names := make([]string, len(routes))
			for i, r := range routes {
				if seen[r.ExposedName] {
					return false
				}
				seen[r.ExposedName] = true
				names[i] = r.ExposedName

				route, ok := agg.RouteFor(r.ExposedName)
				if !ok || route.ServerID != r.ServerID || route.UpstreamName != r.UpstreamName {
					return false
				}
			}
			return sort.StringsAreSorted(names)
		},
		gen.IntRange(1, 4),
		gen.SliceOfN(4, toolSet()),
	))

	properties.TestingRun(t)
}
