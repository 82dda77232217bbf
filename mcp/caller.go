// Package mcp implements the MCP aggregator (spec.md §4.4): merging tools
// discovered from multiple external protocol servers behind deterministic
// "<server_id>__<tool_name>" name-routing, with StrictFailFast
// initialization and route-map persistence across failed refreshes.
package mcp

import (
	"context"
	"encoding/json"
)

// JSON-RPC error codes an upstream MCP server may report, mirrored from the
// protocol's reserved range.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// RPCError is a JSON-RPC error returned by an upstream MCP server.
type RPCError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string { return e.Message }

// CallRequest is one call_tool invocation against an upstream MCP server,
// addressed by the server's own (unnamespaced) tool name.
type CallRequest struct {
	Tool    string
	Payload json.RawMessage
}

// CallResponse is the result of a call_tool invocation. Structured is
// populated when the server returns structured_content; Result otherwise
// carries the raw content array or concatenated text, per spec.md §4.4
// step 3 of execute_tool.
type CallResponse struct {
	Result     json.RawMessage
	Structured json.RawMessage
}

// ToolDescriptor is one tool as reported by an upstream server's
// list_tools, before this package's exposed-name namespacing is applied.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Client is the MCP client capability this package consumes (spec.md §6
// "MCP client"). Transport (stdio child process, HTTP/SSE) is abstracted
// behind this interface; concrete transports are not part of the core.
type Client interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
	Instructions(ctx context.Context) (string, error)
	Close() error
}
