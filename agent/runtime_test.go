package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocisdk/agentcore/agent"
	"github.com/rocisdk/agentcore/config"
	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// scriptedProvider returns a canned text response immediately, or blocks
// until released when release is non-nil, so tests can control exactly when
// a run is mid-flight.
type scriptedProvider struct {
	text    string
	release chan struct{}
}

func (p *scriptedProvider) ProviderName() string               { return "scripted" }
func (p *scriptedProvider) ModelID() string                    { return "scripted-model" }
func (p *scriptedProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (p *scriptedProvider) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
	}
	return provider.Response{Text: p.text, FinishReason: provider.FinishStop}, nil
}

func (p *scriptedProvider) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	return nil, nil
}

func newTestRuntime(t *testing.T, p provider.ModelProvider) *agent.Runtime {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register(func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
		return p, nil
	}, "scripted")

	creds := config.New()
	creds.SetAPIKey("scripted", "test-key")

	r := agent.New(agent.Config{ProviderRegistry: registry, Credentials: creds})
	require.NoError(t, r.SetModel("scripted", "scripted-model"))
	return r
}

func TestPromptRunsToCompletionAndReturnsIdle(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})

	require.NoError(t, r.Prompt(context.Background(), "hi"))
	require.NoError(t, r.WaitForIdle(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, agent.StateIdle, snap.State)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, 2, snap.MessageCount)

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	assert.Equal(t, message.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Text())
}

// TestPromptRejectsWhileRunning covers the not-idle path: a second Prompt
// call while one run is in flight must fail fast with InvalidState rather
// than block or queue (spec.md §4.1/§5).
func TestPromptRejectsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	r := newTestRuntime(t, &scriptedProvider{text: "hello", release: release})

	require.NoError(t, r.Prompt(context.Background(), "hi"))

	err := r.Prompt(context.Background(), "again")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInvalidState, kind)

	close(release)
	require.NoError(t, r.WaitForIdle(context.Background()))
}

// TestAbortMidRunReturnsToIdleThenAcceptsContinue covers scenario 4
// end-to-end: abort mid-flight settles the state back to Idle with a
// canceled lastError, and the runtime accepts a fresh run afterward.
func TestAbortMidRunReturnsToIdleThenAcceptsContinue(t *testing.T) {
	release := make(chan struct{})
	p := &scriptedProvider{text: "hello", release: release}
	r := newTestRuntime(t, p)

	require.NoError(t, r.Prompt(context.Background(), "hi"))
	assert.Equal(t, agent.StateRunning, r.Snapshot().State)

	r.Abort()
	require.NoError(t, r.WaitForIdle(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, agent.StateIdle, snap.State)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "run canceled", *snap.LastError)

	p.release = nil
	require.NoError(t, r.Continue(context.Background(), "go again"))
	require.NoError(t, r.WaitForIdle(context.Background()))

	finalSnap := r.Snapshot()
	assert.Equal(t, agent.StateIdle, finalSnap.State)
	assert.Nil(t, finalSnap.LastError)
}

func TestContinueWithoutInputRefusesWhenNoProgressPossible(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})
	require.NoError(t, r.Prompt(context.Background(), "hi"))
	require.NoError(t, r.WaitForIdle(context.Background()))

	// last message is now assistant-authored and both queues are empty.
	err := r.ContinueWithoutInput(context.Background())
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInvalidState, kind)

	// Once a message is queued, continue_without_input makes progress.
	r.Steer("take a look at this")
	require.NoError(t, r.ContinueWithoutInput(context.Background()))
	require.NoError(t, r.WaitForIdle(context.Background()))
}

func TestReplaceMessagesRoundTrip(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})
	want := []message.Message{message.NewUser("a"), message.NewAssistantText("b")}
	require.NoError(t, r.ReplaceMessages(want))
	assert.Equal(t, want, r.Messages())
}

func TestSteerClearRoundTrip(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})
	r.Steer("x")
	assert.True(t, r.HasQueuedMessages())
	r.ClearSteeringQueue()
	assert.False(t, r.HasQueuedMessages())
}

func TestWatchSnapshotDeliversCurrentThenUpdates(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})
	sub := r.WatchSnapshot()
	defer sub.Close()

	select {
	case snap := <-sub.Changes():
		assert.Equal(t, agent.StateIdle, snap.State)
	default:
		t.Fatal("expected the current snapshot to be primed without blocking")
	}

	require.NoError(t, r.Prompt(context.Background(), "hi"))

	var sawRunning bool
	deadline := time.After(2 * time.Second)
	for !sawRunning {
		select {
		case snap := <-sub.Changes():
			if snap.State == agent.StateRunning {
				sawRunning = true
			}
		case <-deadline:
			t.Fatal("did not observe a Running snapshot")
		}
	}

	require.NoError(t, r.WaitForIdle(context.Background()))
}

func TestResetClearsHistoryAndQueues(t *testing.T) {
	r := newTestRuntime(t, &scriptedProvider{text: "hello"})
	require.NoError(t, r.Prompt(context.Background(), "hi"))
	require.NoError(t, r.WaitForIdle(context.Background()))
	r.FollowUp("pending")

	require.NoError(t, r.Reset(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, agent.StateIdle, snap.State)
	assert.Equal(t, 0, snap.MessageCount)
	assert.Nil(t, snap.LastError)
	assert.False(t, r.HasQueuedMessages())
	assert.Empty(t, r.Messages())
}

// TestSetModelRejectedWhileRunning covers the mutator-vs-busy invariant: a
// mutator call while Running must fail, not silently queue.
func TestSetModelRejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	r := newTestRuntime(t, &scriptedProvider{text: "hello", release: release})

	require.NoError(t, r.Prompt(context.Background(), "hi"))
	err := r.SetModel("scripted", "other-model")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInvalidState, kind)

	close(release)
	require.NoError(t, r.WaitForIdle(context.Background()))
}
