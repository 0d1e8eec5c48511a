package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-notifier/internal/config"
	memorystorage "github.com/JakeFAU/review-notifier/internal/storage/memory"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return &cfg
}

func TestBuildWithoutMessagingToken(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), defaultConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.IsType(t, &memorystorage.Repository{}, app.Repo)
	require.NotNil(t, app.Syncer)
	require.ErrorIs(t, app.RequireNotifications(), ErrNotificationsDisabled)
	require.ErrorContains(t, app.Migrate(context.Background()), "database.dsn is required")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sweeps", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildWithMessagingToken(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Notify.DiscordToken = "token"
	cfg.Snapshots.Backend = "memory"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.NoError(t, app.RequireNotifications())
	require.NotNil(t, app.Dispatcher)
	require.NotNil(t, app.Runner)
}

func TestBuildLocalSnapshots(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Snapshots.Backend = "local"
	cfg.Snapshots.Local.BaseDir = t.TempDir()

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	app.Close()
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Logging.Level = "loud"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}

func TestServeWithoutMessagingTokenAnswersQueries(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), defaultConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := client.Post(base+"/v1/sweeps", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
