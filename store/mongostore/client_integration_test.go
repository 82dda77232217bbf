package mongostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoContainer() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
	}
}

func newTestStore(t *testing.T) Client {
	t.Helper()
	if skipMongoTests {
		t.Skip("docker not available, skipping mongostore integration test")
	}
	store, err := New(context.Background(), Options{
		Client:   testMongoClient,
		Database: "agentcore_test",
	})
	require.NoError(t, err)
	return store
}

func TestMain(m *testing.M) {
	setupMongoContainer()
	code := m.Run()
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(context.Background())
	}
	if code != 0 {
		panic(fmt.Sprintf("mongostore tests failed with code %d", code))
	}
}

func TestCreateLoadEndSession(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess, err := store.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, StatusActive, sess.Status)
	require.True(t, sess.CreatedAt.Equal(now))

	loaded, err := store.LoadSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, sess, loaded)

	end := now.Add(time.Minute)
	ended, err := store.EndSession(context.Background(), "sess-1", end)
	require.NoError(t, err)
	require.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.True(t, ended.EndedAt.Equal(end))

	_, err = store.LoadSession(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateSessionIsIdempotentAndRejectsEnded(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess, err := store.CreateSession(context.Background(), "sess-2", now)
	require.NoError(t, err)

	again, err := store.CreateSession(context.Background(), "sess-2", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, sess.CreatedAt, again.CreatedAt)

	_, err = store.EndSession(context.Background(), "sess-2", now.Add(2*time.Minute))
	require.NoError(t, err)

	_, err = store.CreateSession(context.Background(), "sess-2", now.Add(3*time.Minute))
	require.ErrorIs(t, err, ErrSessionEnded)
}

func TestUpsertAndLoadRun(t *testing.T) {
	store := newTestStore(t)
	run := RunMeta{
		RunID:     "run-1",
		SessionID: "sess-3",
		ModelID:   "anthropic/claude",
		Status:    RunStatusPending,
		Labels:    map[string]string{"org": "demo"},
		Metadata:  map[string]any{"reason": "test"},
	}
	require.NoError(t, store.UpsertRun(context.Background(), run))

	stored, err := store.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, run.RunID, stored.RunID)
	require.Equal(t, run.SessionID, stored.SessionID)
	require.Equal(t, run.Status, stored.Status)
	require.Equal(t, "demo", stored.Labels["org"])

	run.Status = RunStatusCompleted
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.UpsertRun(context.Background(), run))

	updated, err := store.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, updated.Status)
	require.True(t, updated.UpdatedAt.After(stored.UpdatedAt))

	_, err = store.LoadRun(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsBySessionFiltersByStatus(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertRun(context.Background(), RunMeta{
		RunID: "run-a", SessionID: "sess-4", Status: RunStatusRunning,
	}))
	require.NoError(t, store.UpsertRun(context.Background(), RunMeta{
		RunID: "run-b", SessionID: "sess-4", Status: RunStatusCompleted,
	}))
	require.NoError(t, store.UpsertRun(context.Background(), RunMeta{
		RunID: "run-c", SessionID: "sess-other", Status: RunStatusRunning,
	}))

	all, err := store.ListRunsBySession(context.Background(), "sess-4", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	running, err := store.ListRunsBySession(context.Background(), "sess-4", []RunStatus{RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "run-a", running[0].RunID)
}
