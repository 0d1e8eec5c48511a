package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/config"
	"github.com/JakeFAU/review-notifier/internal/storage/memory"
	"github.com/JakeFAU/review-notifier/internal/sweep"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	rec := serve(srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestReadyzReportsRepositoryFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/readyz", nil).Code)

	broken := NewServer(failingRepo{Repository: memory.NewRepository()}, nil, nil, config.Config{}, nil)
	t.Cleanup(broken.Close)
	require.Equal(t, http.StatusServiceUnavailable, serve(broken, http.MethodGet, "/readyz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	serve(srv, http.MethodGet, "/healthz", nil)
	rec := serve(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestGetUser(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{})
	rec := serve(srv, http.MethodGet, "/v1/users/100", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, fx.user.ID, got.ID)
	require.Equal(t, "Jane", got.DisplayName)

	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/users/999", nil).Code)
}

func TestGetLatestReview(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{})
	original := "tacos geniales"
	fx.reviews.review = &tracker.ReviewWithOwner{
		Review: tracker.Review{PlaceName: "Cafe", Text: "great tacos", OriginalText: &original, StarRating: 5},
		Owner:  fx.user,
	}

	rec := serve(srv, http.MethodGet, "/v1/users/100/review", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got reviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Cafe", got.PlaceName)
	require.Equal(t, 5, got.Stars)
	require.Equal(t, "tacos geniales", *got.OriginalText)
	require.Equal(t, "100", got.User.ExternalID)
}

func TestGetLatestReviewWithoutReviews(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/users/100/review", nil).Code)
}

func TestGetLatestReviewFailure(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{})
	fx.reviews.err = errors.New("boom")
	require.Equal(t, http.StatusInternalServerError, serve(srv, http.MethodGet, "/v1/users/100/review", nil).Code)
}

func TestListFollowed(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{})
	_, err := fx.repo.Follow(context.Background(), tracker.Following{FollowedUserID: fx.user.ID, ChannelID: "c1", EndpointID: "wh"})
	require.NoError(t, err)

	rec := serve(srv, http.MethodGet, "/v1/channels/c1/followed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"display_name":"Jane"`)

	rec = serve(srv, http.MethodGet, "/v1/channels/c2/followed", nil)
	require.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestTriggerSweep(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{})
	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/sweeps/last", nil).Code)

	require.Equal(t, http.StatusAccepted, serve(srv, http.MethodPost, "/v1/sweeps", nil).Code)
	<-fx.sweeper.started
	require.Equal(t, http.StatusConflict, serve(srv, http.MethodPost, "/v1/sweeps", nil).Code)
	close(fx.sweeper.release)

	require.Eventually(t, func() bool {
		return serve(srv, http.MethodGet, "/v1/sweeps/last", nil).Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)
	rec := serve(srv, http.MethodGet, "/v1/sweeps/last", nil)
	var got sweepOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "sweep-1", got.Summary.ID)
	require.Equal(t, 3, got.Summary.Changed)
	require.Empty(t, got.Error)
}

func TestTriggerSweepRequiresAPIKey(t *testing.T) {
	t.Parallel()

	srv, fx := newTestServer(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	close(fx.sweeper.release)

	require.Equal(t, http.StatusForbidden, serve(srv, http.MethodPost, "/v1/sweeps", nil).Code)
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz", nil).Code, "read routes stay open")

	rec := serve(srv, http.MethodPost, "/v1/sweeps", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	require.NotEmpty(t, serve(srv, http.MethodGet, "/healthz", nil).Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fixture struct {
	repo    *memory.Repository
	user    tracker.ExternalUser
	reviews *fakeReviews
	sweeper *blockingSweeper
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *fixture) {
	t.Helper()
	repo := memory.NewRepository()
	user, err := repo.CreateUser(context.Background(), tracker.Profile{ExternalID: "100", DisplayName: "Jane"})
	require.NoError(t, err)
	fx := &fixture{
		repo:    repo,
		user:    user,
		reviews: &fakeReviews{},
		sweeper: &blockingSweeper{started: make(chan struct{}, 1), release: make(chan struct{})},
	}
	srv := NewServer(repo, fx.reviews, fx.sweeper, cfg, nil)
	t.Cleanup(srv.Close)
	return srv, fx
}

func serve(srv *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeReviews struct {
	review *tracker.ReviewWithOwner
	err    error
}

func (f *fakeReviews) LatestReview(context.Context, int64) (*tracker.ReviewWithOwner, error) {
	return f.review, f.err
}

type blockingSweeper struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func (b *blockingSweeper) Run(ctx context.Context) (sweep.Summary, error) {
	b.mu.Lock()
	b.runs++
	n := b.runs
	b.mu.Unlock()
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return sweep.Summary{}, ctx.Err()
	}
	return sweep.Summary{ID: fmt.Sprintf("sweep-%d", n), Changed: 3}, nil
}

type failingRepo struct {
	*memory.Repository
}

func (failingRepo) CountFollowedUsers(context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func TestTriggerSweepDisabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(memory.NewRepository(), &fakeReviews{}, nil, config.Config{}, nil)
	t.Cleanup(srv.Close)
	require.Equal(t, http.StatusServiceUnavailable, serve(srv, http.MethodPost, "/v1/sweeps", nil).Code)
}
