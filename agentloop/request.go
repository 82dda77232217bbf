package agentloop

import (
	"time"

	"github.com/rocisdk/agentcore/compaction"
	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
	"github.com/rocisdk/agentcore/retry"
	"github.com/rocisdk/agentcore/tool"
)

// Hooks bundles the optional lifecycle hooks a RunRequest configures
// (spec.md §4.2 step 2, §4.3 steps 1/5).
type Hooks struct {
	PreToolUse       hooks.PreToolUseHook
	PostToolUse      hooks.PostToolUseHook
	Compaction       hooks.CompactionHook
	TransformContext hooks.TransformContextHook
	ConvertToLLM     hooks.ConvertToLLMHook
}

// RunRequest is built once per run by the controller and treated as
// immutable by the loop (spec.md §3 "RunRequest").
type RunRequest struct {
	RunID string

	// Provider is the already-resolved ModelProvider for this run (the
	// controller resolves it from a provider.Registry at run start using
	// the model key and an API key from config.Config; provider resolution
	// itself is therefore not part of this request).
	Provider provider.ModelProvider
	// Registry, when set, is consulted by compaction when
	// AutoCompaction.ProviderKey names a different model than Provider.
	Registry *provider.Registry

	InitialMessages []message.Message
	Tools           *tool.Registry
	GenSettings     provider.Settings

	Hooks         Hooks
	SteeringQueue *Queue
	FollowUpQueue *Queue
	EventSink     hooks.Sink

	APIKey    string
	Transport string
	SessionID string

	AutoCompaction *compaction.Settings
	ContextWindow  int

	RetryPolicy   retry.Policy
	MaxRetryDelay *time.Duration
	MaxIterations int
}

// Status is the terminal disposition of a run (spec.md §3 "RunResult").
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Step records one turn's usage for RunResult.Steps.
type Step struct {
	TurnIndex int
	Usage     message.Usage
}

// Result is the loop's output once a run terminates.
type Result struct {
	Status   Status
	Messages []message.Message
	Usage    message.Usage
	Steps    []Step
	Error    error
}
