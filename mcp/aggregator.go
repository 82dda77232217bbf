package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rocisdk/agentcore/errs"
)

// Route pairs an exposed, namespaced tool name with the upstream server and
// tool name it routes to (spec.md §3 MCPToolRoute).
type Route struct {
	ExposedName    string
	ServerID       string
	UpstreamName   string
	Label          string
}

// server is one registered MCP server and its client handle.
type server struct {
	id    string
	label string
	mu    sync.Mutex // serializes in-flight requests to this one server (spec.md §5)
	client Client
	initialized bool
}

// Aggregator merges tools from N registered MCP servers behind
// "<server_id>__<tool_name>" namespacing (spec.md §4.4).
type Aggregator struct {
	mu      sync.RWMutex
	servers map[string]*server
	order   []string
	routes  map[string]Route
}

// NewAggregator constructs an Aggregator with no servers registered.
func NewAggregator() *Aggregator {
	return &Aggregator{
		servers: make(map[string]*server),
		routes:  make(map[string]Route),
	}
}

// RegisterServer adds a server under id with client as its MCP client.
// Construction fails on an empty or already-registered id (spec.md §4.4).
func (a *Aggregator) RegisterServer(id, label string, client Client) error {
	if id == "" {
		return errs.New(errs.KindInvalidArgument, "mcp: server id must not be empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.servers[id]; exists {
		return errs.New(errs.KindInvalidArgument, fmt.Sprintf("mcp: duplicate server id %q", id))
	}
	a.servers[id] = &server{id: id, label: label, client: client}
	a.order = append(a.order, id)
	return nil
}

// ListTools refreshes the route table from every registered server in
// registration order, under StrictFailFast: the first server that fails to
// initialize or list its tools aborts the refresh entirely, leaving the
// previously stored routes untouched so in-flight runs can still dispatch
// against them (spec.md §4.4 "Route map persistence").
func (a *Aggregator) ListTools(ctx context.Context) ([]Route, error) {
	a.mu.RLock()
	order := append([]string(nil), a.order...)
	servers := make(map[string]*server, len(a.servers))
	for id, s := range a.servers {
		servers[id] = s
	}
	a.mu.RUnlock()

	newRoutes := make(map[string]Route)
	for _, id := range order {
		s := servers[id]
		s.mu.Lock()
		if !s.initialized {
			if err := s.client.Initialize(ctx); err != nil {
				s.mu.Unlock()
				return nil, errs.Wrap(errs.KindServer, fmt.Sprintf("mcp: initialize server %q", id), err)
			}
			s.initialized = true
		}
		descriptors, err := s.client.ListTools(ctx)
		s.mu.Unlock()
		if err != nil {
			return nil, errs.Wrap(errs.KindServer, fmt.Sprintf("mcp: list_tools on server %q", id), err)
		}
		for _, d := range descriptors {
			exposed := id + "__" + d.Name
			if existing, collide := newRoutes[exposed]; collide {
				return nil, errs.New(errs.KindInvalidState,
					fmt.Sprintf("mcp: exposed name %q collides between server %q and %q", exposed, existing.ServerID, id))
			}
			newRoutes[exposed] = Route{ExposedName: exposed, ServerID: id, UpstreamName: d.Name, Label: s.label}
		}
	}

	a.mu.Lock()
	a.routes = newRoutes
	a.mu.Unlock()

	out := make([]Route, 0, len(newRoutes))
	for _, r := range newRoutes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExposedName < out[j].ExposedName })
	return out, nil
}

// RouteFor resolves an exposed name to its (server_id, upstream_name) pair
// without executing anything, used by tests that verify spec.md §8's
// invariant that every exposed_name resolves to the same pair used for
// dispatch.
func (a *Aggregator) RouteFor(exposedName string) (Route, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.routes[exposedName]
	return r, ok
}

// ExecuteTool dispatches exposedName against its routed server, coercing
// args per spec.md §4.4's upstream argument coercion rule: a JSON object is
// passed through, a JSON string containing an object is unwrapped, and
// anything else (array, scalar) is rejected.
func (a *Aggregator) ExecuteTool(ctx context.Context, exposedName string, args json.RawMessage) (CallResponse, error) {
	a.mu.RLock()
	route, ok := a.routes[exposedName]
	var s *server
	if ok {
		s = a.servers[route.ServerID]
	}
	a.mu.RUnlock()

	if !ok {
		return CallResponse{}, errs.New(errs.KindInvalidArgument, fmt.Sprintf("mcp: no route for %q", exposedName))
	}
	if s == nil {
		return CallResponse{}, errs.New(errs.KindInvalidState, fmt.Sprintf("mcp: server %q not registered", route.ServerID))
	}

	payload, err := coerceObjectArgs(args)
	if err != nil {
		return CallResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		if err := s.client.Initialize(ctx); err != nil {
			return CallResponse{}, errs.Wrap(errs.KindServer, fmt.Sprintf("mcp: initialize server %q", s.id), err)
		}
		s.initialized = true
	}
	resp, err := s.client.CallTool(ctx, CallRequest{Tool: route.UpstreamName, Payload: payload})
	if err != nil {
		return CallResponse{}, errs.Wrap(errs.KindServer, fmt.Sprintf("mcp: call_tool %q on server %q", route.UpstreamName, s.id), err)
	}
	return resp, nil
}

// coerceObjectArgs accepts a JSON object, or a JSON string whose own content
// decodes to an object, and rejects arrays or scalars (spec.md §4.4).
func coerceObjectArgs(args json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}

	var asString string
	if err := json.Unmarshal(args, &asString); err == nil {
		inner := json.RawMessage(asString)
		var obj map[string]any
		if err := json.Unmarshal(inner, &obj); err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "mcp: argument string does not decode to a JSON object")
		}
		return inner, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "mcp: arguments must be a JSON object")
	}
	return args, nil
}
