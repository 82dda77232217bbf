// Package agent implements the run controller (spec.md §4.1, "AgentRuntime
// "): the public façade a host drives (prompt/continue/steer/follow_up/
// abort/reset), its Idle/Running/Aborting state machine, and the snapshot
// broadcast observers read. It owns conversation history and delegates one
// run at a time to an agentloop.LoopRunner.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocisdk/agentcore/agentloop"
	"github.com/rocisdk/agentcore/compaction"
	"github.com/rocisdk/agentcore/config"
	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
	"github.com/rocisdk/agentcore/retry"
	"github.com/rocisdk/agentcore/store/mongostore"
	"github.com/rocisdk/agentcore/telemetry"
	"github.com/rocisdk/agentcore/tool"
)

// Config bundles the static collaborators an AgentRuntime needs at
// construction: the provider registry it resolves models from, the host's
// credential resolver, and a logger. Everything else (system prompt,
// model, tools, settings, hooks) is set through runtime mutators that
// require Idle.
type Config struct {
	ProviderRegistry *provider.Registry
	Credentials      *config.Config
	Logger           telemetry.Logger
}

// Runtime is the run controller façade (spec.md §4.1). The zero value is
// not usable; construct with New.
type Runtime struct {
	registry      *provider.Registry
	credentials   *config.Config
	runner        *agentloop.LoopRunner
	logger        telemetry.Logger
	metadataStore mongostore.Store

	mu sync.Mutex

	state        State
	messages     []message.Message
	turnIndex    int
	isStreaming  bool
	lastError    *string
	idleCh       chan struct{}
	cancelRun    context.CancelFunc

	systemPrompt   string
	providerKey    string
	modelID        string
	tools          *tool.Registry
	settings       provider.Settings
	hooks          agentloop.Hooks
	eventSink      hooks.Sink
	autoCompaction *compaction.Settings
	contextWindow  int
	retryPolicy    retry.Policy
	maxRetryDelay  *time.Duration
	maxIterations  int
	transport      string
	sessionID      string

	steeringQueue *agentloop.Queue
	followUpQueue *agentloop.Queue

	broadcast *snapshotBroadcast
}

// New constructs an idle Runtime.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	r := &Runtime{
		registry:      cfg.ProviderRegistry,
		credentials:   cfg.Credentials,
		runner:        agentloop.NewLoopRunner(logger),
		logger:        logger,
		state:         StateIdle,
		idleCh:        closedChan(),
		tools:         tool.NewRegistry(),
		steeringQueue: agentloop.NewQueue(agentloop.DrainAll),
		followUpQueue: agentloop.NewQueue(agentloop.DrainAll),
		eventSink:     hooks.NopSink,
	}
	r.broadcast = newSnapshotBroadcast(r.snapshotLocked())
	return r
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Snapshot returns the current observable state.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runtime) snapshotLocked() Snapshot {
	return Snapshot{
		State:        r.state,
		TurnIndex:    r.turnIndex,
		MessageCount: len(r.messages),
		IsStreaming:  r.isStreaming,
		LastError:    r.lastError,
	}
}

// WatchSnapshot subscribes to the snapshot broadcast. The caller must
// Close the subscription when done.
func (r *Runtime) WatchSnapshot() *Subscription {
	return r.broadcast.Subscribe()
}

func (r *Runtime) publishSnapshot() {
	r.broadcast.Publish(r.snapshotLocked())
}

// Messages returns a copy of the current history.
func (r *Runtime) Messages() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.messages...)
}

// busy constructs the InvalidState("busy") error spec.md §4.1/§5 requires
// on state-guard contention.
func busy() error { return errs.New(errs.KindInvalidState, "busy") }

func notIdle() error { return errs.New(errs.KindInvalidState, "agent is not idle") }

// requireIdleMutator runs mutate while holding the state guard, failing
// with InvalidState("busy") on contention and InvalidState otherwise if
// the agent is not Idle. Used by every runtime mutator (spec.md §4.1:
// "Runtime mutators ... fail with InvalidState unless Idle. They use
// non-blocking acquisition of the state guard").
func (r *Runtime) requireIdleMutator(mutate func()) error {
	if !r.mu.TryLock() {
		return busy()
	}
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return notIdle()
	}
	mutate()
	return nil
}

// SetSystemPrompt configures the system prompt prepended on the first
// Prompt call against empty history.
func (r *Runtime) SetSystemPrompt(prompt string) error {
	return r.requireIdleMutator(func() { r.systemPrompt = prompt })
}

// SetModel configures the (provider_key, model_id) pair resolved at the
// start of each run.
func (r *Runtime) SetModel(providerKey, modelID string) error {
	return r.requireIdleMutator(func() {
		r.providerKey = providerKey
		r.modelID = modelID
	})
}

// SetTools replaces the tool registry consulted by the next run.
func (r *Runtime) SetTools(tools *tool.Registry) error {
	return r.requireIdleMutator(func() { r.tools = tools })
}

// SetGenerationSettings configures per-run provider Settings.
func (r *Runtime) SetGenerationSettings(settings provider.Settings) error {
	return r.requireIdleMutator(func() { r.settings = settings })
}

// SetHooks configures the lifecycle hooks attached to each run.
func (r *Runtime) SetHooks(h agentloop.Hooks) error {
	return r.requireIdleMutator(func() { r.hooks = h })
}

// SetEventSink configures the sink the loop emits AgentEvents to.
func (r *Runtime) SetEventSink(sink hooks.Sink) error {
	return r.requireIdleMutator(func() {
		if sink == nil {
			sink = hooks.NopSink
		}
		r.eventSink = sink
	})
}

// SetAutoCompaction configures automatic history compaction.
func (r *Runtime) SetAutoCompaction(settings *compaction.Settings, contextWindow int) error {
	return r.requireIdleMutator(func() {
		r.autoCompaction = settings
		r.contextWindow = contextWindow
	})
}

// SetRetryPolicy configures the provider-call retry policy.
func (r *Runtime) SetRetryPolicy(policy retry.Policy, maxRetryDelay *time.Duration) error {
	return r.requireIdleMutator(func() {
		r.retryPolicy = policy
		r.maxRetryDelay = maxRetryDelay
	})
}

// SetMaxIterations configures the turn loop's hard stop (0 keeps the
// agentloop default of 20).
func (r *Runtime) SetMaxIterations(n int) error {
	return r.requireIdleMutator(func() { r.maxIterations = n })
}

// SetTransportAndSession configures the optional transport and session_id
// metadata attached to provider requests.
func (r *Runtime) SetTransportAndSession(transport, sessionID string) error {
	return r.requireIdleMutator(func() {
		r.transport = transport
		r.sessionID = sessionID
	})
}

// SetMetadataStore configures where run and session metadata is persisted.
// When store is nil (the default), runs are not persisted outside the
// in-memory Runtime state.
func (r *Runtime) SetMetadataStore(store mongostore.Store) error {
	return r.requireIdleMutator(func() { r.metadataStore = store })
}

// ReplaceMessages overwrites the conversation history wholesale. Requires
// Idle; `replace_messages(m) -> messages() == m` is a round-trip law
// (spec.md §8).
func (r *Runtime) ReplaceMessages(messages []message.Message) error {
	return r.requireIdleMutator(func() {
		r.messages = append([]message.Message(nil), messages...)
	})
}

// Steer enqueues a User message on the steering queue. Legal from any
// state (spec.md §4.1).
func (r *Runtime) Steer(text string) {
	r.steeringQueue.Enqueue(message.NewUser(text))
}

// FollowUp enqueues a User message on the follow-up queue. Legal from any
// state.
func (r *Runtime) FollowUp(text string) {
	r.followUpQueue.Enqueue(message.NewUser(text))
}

// ClearSteeringQueue empties the steering queue without starting a run.
// `steer(x); clear_steering_queue(); has_queued_messages() == false` is a
// round-trip law (spec.md §8).
func (r *Runtime) ClearSteeringQueue() { r.steeringQueue.Clear() }

// ClearFollowUpQueue empties the follow-up queue without starting a run.
func (r *Runtime) ClearFollowUpQueue() { r.followUpQueue.Clear() }

// HasQueuedMessages reports whether either queue currently holds a
// message.
func (r *Runtime) HasQueuedMessages() bool {
	return r.steeringQueue.Len() > 0 || r.followUpQueue.Len() > 0
}

// Prompt requires Idle. If history is empty and a system prompt is
// configured, it is prepended; then User(text) is appended and a run
// starts.
func (r *Runtime) Prompt(ctx context.Context, text string) error {
	return r.startRun(ctx, func() {
		if len(r.messages) == 0 && r.systemPrompt != "" {
			r.messages = append(r.messages, message.NewSystem(r.systemPrompt))
		}
		r.messages = append(r.messages, message.NewUser(text))
	})
}

// Continue requires Idle. It appends User(text) and starts a run without
// prepending the system prompt (the conversation is assumed already
// underway).
func (r *Runtime) Continue(ctx context.Context, text string) error {
	return r.startRun(ctx, func() {
		r.messages = append(r.messages, message.NewUser(text))
	})
}

// ContinueWithoutInput requires Idle and non-empty history. It fails with
// InvalidState when the last message is Assistant-authored and both
// queues are empty, since no progress would be possible (spec.md §9 Open
// Question: the controller refuses rather than silently re-entering).
func (r *Runtime) ContinueWithoutInput(ctx context.Context) error {
	return r.startRunChecked(ctx, func() error {
		if len(r.messages) == 0 {
			return errs.New(errs.KindInvalidState, "continue_without_input: history is empty")
		}
		last := r.messages[len(r.messages)-1]
		if last.Role == message.RoleAssistant && r.steeringQueue.Len() == 0 && r.followUpQueue.Len() == 0 {
			return errs.New(errs.KindInvalidState,
				"continue_without_input: last message is assistant-authored and no queued messages would make progress")
		}
		return nil
	}, func() {})
}

// startRun is startRunChecked with an always-nil precondition.
func (r *Runtime) startRun(ctx context.Context, mutate func()) error {
	return r.startRunChecked(ctx, func() error { return nil }, mutate)
}

// startRunChecked performs the Idle->Running transition atomically: the
// state guard is held only long enough to validate preconditions, apply
// mutate, snapshot the run configuration, and flip state to Running. It is
// then released before the (potentially long-running) loop executes, so
// the guard is never held across a suspension point (spec.md §4.1/§9).
func (r *Runtime) startRunChecked(ctx context.Context, check func() error, mutate func()) error {
	if !r.mu.TryLock() {
		return busy()
	}
	if r.state != StateIdle {
		r.mu.Unlock()
		return notIdle()
	}
	if err := check(); err != nil {
		r.mu.Unlock()
		return err
	}
	mutate()

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancelRun = cancel
	r.state = StateRunning
	r.isStreaming = true
	r.idleCh = make(chan struct{})
	req := r.buildRunRequestLocked(runCtx)
	store := r.metadataStore
	modelID := r.modelID
	sessionID := r.sessionID
	r.publishSnapshot()
	r.mu.Unlock()

	go r.executeRun(runCtx, req, store, sessionID, modelID)
	return nil
}

func (r *Runtime) buildRunRequestLocked(ctx context.Context) agentloop.RunRequest {
	apiKey := ""
	if r.credentials != nil && r.providerKey != "" {
		if key, err := r.credentials.GetAPIKey(r.providerKey); err == nil {
			apiKey = key
		}
	}

	var modelProvider provider.ModelProvider
	if r.registry != nil {
		cfg := map[string]string{"api_key": apiKey}
		if r.credentials != nil {
			cfg["base_url"] = r.credentials.GetBaseURL(r.providerKey)
		}
		modelProvider, _ = r.registry.CreateProvider(r.providerKey, r.modelID, cfg)
	}

	return agentloop.RunRequest{
		RunID:           newRunID(r.providerKey),
		Provider:        modelProvider,
		Registry:        r.registry,
		InitialMessages: append([]message.Message(nil), r.messages...),
		Tools:           r.tools,
		GenSettings:     r.settings,
		Hooks:           r.hooks,
		SteeringQueue:   r.steeringQueue,
		FollowUpQueue:   r.followUpQueue,
		EventSink:       r.eventSink,
		APIKey:          apiKey,
		Transport:       r.transport,
		SessionID:       r.sessionID,
		AutoCompaction:  r.autoCompaction,
		ContextWindow:   r.contextWindow,
		RetryPolicy:     r.retryPolicy,
		MaxRetryDelay:   r.maxRetryDelay,
		MaxIterations:   r.maxIterations,
	}
}

func (r *Runtime) executeRun(ctx context.Context, req agentloop.RunRequest, store mongostore.Store, sessionID, modelID string) {
	if sessionID == "" {
		sessionID = req.RunID
	}
	r.persistRunStart(store, req.RunID, sessionID, modelID)

	result := r.runner.Run(ctx, req)

	r.mu.Lock()
	r.messages = result.Messages
	r.turnIndex += len(result.Steps)
	r.isStreaming = false
	switch result.Status {
	case agentloop.StatusFailed:
		msg := "run failed"
		if result.Error != nil {
			msg = result.Error.Error()
		}
		r.lastError = &msg
	case agentloop.StatusCanceled:
		msg := "run canceled"
		r.lastError = &msg
	default:
		r.lastError = nil
	}
	r.state = StateIdle
	close(r.idleCh)
	r.cancelRun = nil
	r.publishSnapshot()
	r.mu.Unlock()

	r.persistRunTerminal(store, req.RunID, sessionID, modelID, result.Status)
}

// persistRunStart records the session and run in the metadata store at the
// start of a run. Persistence runs on its own timeout, independent of the
// run's own (cancelable) context, so an aborted run still leaves a durable
// record; failures are logged, never fatal to the run.
func (r *Runtime) persistRunStart(store mongostore.Store, runID, sessionID, modelID string) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := store.CreateSession(ctx, sessionID, now); err != nil {
		r.logPersistError(ctx, "create session", err)
	}
	run := mongostore.RunMeta{
		RunID:     runID,
		SessionID: sessionID,
		ModelID:   modelID,
		Status:    mongostore.RunStatusRunning,
		StartedAt: now,
	}
	if err := store.UpsertRun(ctx, run); err != nil {
		r.logPersistError(ctx, "upsert run start", err)
	}
}

// persistRunTerminal records the run's terminal status in the metadata
// store once the loop has returned.
func (r *Runtime) persistRunTerminal(store mongostore.Store, runID, sessionID, modelID string, status agentloop.Status) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := mongostore.RunMeta{
		RunID:     runID,
		SessionID: sessionID,
		ModelID:   modelID,
		Status:    runStatusFor(status),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.UpsertRun(ctx, run); err != nil {
		r.logPersistError(ctx, "upsert run terminal", err)
	}
}

func runStatusFor(status agentloop.Status) mongostore.RunStatus {
	switch status {
	case agentloop.StatusCompleted:
		return mongostore.RunStatusCompleted
	case agentloop.StatusCanceled:
		return mongostore.RunStatusCanceled
	default:
		return mongostore.RunStatusFailed
	}
}

func (r *Runtime) logPersistError(ctx context.Context, op string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Error(ctx, "agent: metadata persistence failed", "op", op, "error", err.Error())
}

// Abort transitions Running->Aborting and signals the current run's
// cancellation. It is idempotent (a no-op) from any other state.
func (r *Runtime) Abort() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateAborting
	cancel := r.cancelRun
	r.publishSnapshot()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WaitForIdle blocks until the state is Idle or ctx is done.
func (r *Runtime) WaitForIdle(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return nil
	}
	ch := r.idleCh
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset aborts any in-flight run, waits for it to wind down, then clears
// all queues and history and resets counters. It never force-drops
// in-flight tools: it awaits the run's natural termination after
// signalling cancellation (spec.md §5).
func (r *Runtime) Reset(ctx context.Context) error {
	r.Abort()
	if err := r.WaitForIdle(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.turnIndex = 0
	r.isStreaming = false
	r.lastError = nil
	r.steeringQueue.Clear()
	r.followUpQueue.Clear()
	r.publishSnapshot()
	return nil
}

// newRunID returns a globally unique run identifier, prefixed with the
// normalized provider key to improve observability in logs, metrics, and
// traces without sacrificing uniqueness.
func newRunID(providerKey string) string {
	prefix := strings.ReplaceAll(providerKey, ".", "-")
	if prefix == "" {
		prefix = "run"
	}
	return prefix + "-" + uuid.NewString()
}
