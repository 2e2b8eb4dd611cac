package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nhle/insync/internal/credential"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/tests/testutil"
)

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv(model.APIHostEnv, "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := run([]string{"-config", path, "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "bogus"`)
}

func TestRun_HelpIsNotAnError(t *testing.T) {
	assert.NoError(t, run([]string{"-h"}))
}

func TestRun_HostSavesConfig(t *testing.T) {
	t.Setenv(model.APIHostEnv, "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, run([]string{"-config", path, "host", "staging.example.com:9000"}))
	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "staging.example.com:9000", cfg.API.Host)

	assert.Error(t, run([]string{"-config", path, "host"}))
	assert.Error(t, run([]string{"-config", path, "host", "http://with-scheme"}))

	cfg, err = model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "staging.example.com:9000", cfg.API.Host)
}

type cliFixture struct {
	fake   *testutil.FakeAPI
	tokens *credential.MemoryStore
	app    *application
	logs   *observer.ObservedLogs
}

func newCLIFixture(t *testing.T, token string) *cliFixture {
	t.Helper()
	f := testutil.NewFakeAPI(t)
	t.Setenv(model.APIHostEnv, f.Host())
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	tokens := credential.NewMemoryStore(token)
	a, err := assemble(context.Background(), cfg, zap.New(core), tokens)
	require.NoError(t, err)
	t.Cleanup(a.close)

	return &cliFixture{fake: f, tokens: tokens, app: a, logs: logs}
}

func TestWatch_LogsPushedNotifications(t *testing.T) {
	fx := newCLIFixture(t, testutil.ValidToken(t, "u1"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- fx.app.watch(ctx) }()

	require.Eventually(t, func() bool { return fx.fake.SocketCount("u1") == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, fx.fake.PushNotification("u1", model.Notification{
		ID:          "n1",
		WorkspaceID: "w1",
		Message:     "hello",
		EventType:   model.EventTaskAssigned,
	}))

	require.Eventually(t, func() bool {
		return fx.logs.FilterMessage("new notification").Len() == 1
	}, 3*time.Second, 10*time.Millisecond)
	entry := fx.logs.FilterMessage("new notification").All()[0]
	assert.Equal(t, "n1", entry.ContextMap()["id"])

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestWatch_StopsWhenSessionIsRejected(t *testing.T) {
	fx := newCLIFixture(t, testutil.ValidToken(t, "u1"))
	fx.fake.Fail("GET /notifications/unread", http.StatusUnauthorized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := fx.app.watch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session rejected")
}

func TestWatch_RequiresSession(t *testing.T) {
	fx := newCLIFixture(t, "")

	err := fx.app.watch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

func TestStatus_LeavesExpiredTokenInPlace(t *testing.T) {
	expired := testutil.ExpiredToken(t, "u1")
	fx := newCLIFixture(t, expired)

	require.NoError(t, fx.app.status(context.Background()))
	tok, err := fx.tokens.Load()
	require.NoError(t, err)
	assert.Equal(t, expired, tok)
}
