package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/review-notifier/internal/browser/wait"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	testExternalID = "1234567890"
	reviewListURL  = "https://www.google.com/maps/contrib/1234567890/reviews?hl=en"
	reviewListedAt = "https://www.google.com/maps/contrib/1234567890/reviews/@40.1,1.2,12z?hl=en"
	singleReview   = "https://www.google.com/maps/place/ChIJ_abc-123/@40.1,1.2,17z"
	placeDetail    = "https://www.google.com/maps/place/Caf%C3%A9+Central/@40.1,1.2,17z/data=!3m1"
)

func testConfig() Config {
	return Config{
		StepTimeout:    30 * time.Millisecond,
		ProfileTimeout: 30 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

func newTestExtractor(page *fakePage, opts ...Option) (*Extractor, *fakeSessions) {
	sessions := &fakeSessions{page: page}
	opts = append([]Option{WithPoller(wait.New(time.Millisecond))}, opts...)
	return New(sessions, testConfig(), nil, opts...), sessions
}

// reviewPage scripts the full happy path of the review protocol.
func reviewPage() *fakePage {
	p := newFakePage()
	p.redirects[reviewListURL] = reviewListedAt
	p.counts[reviewFeedXPath] = 1
	p.counts[firstReviewXPath] = 3
	p.onClick[firstReviewXPath] = singleReview
	p.texts[reviewTextXPath] = "Lovely coffee, rude staff."
	p.attrs[starGlyphXPath] = []string{
		"google-symbols filled", "google-symbols filled", "google-symbols filled",
		"google-symbols filled", "google-symbols hollow",
	}
	p.counts[placeHeaderXPath] = 1
	p.onClick[placeHeaderXPath] = placeDetail
	return p
}

func TestLatestReviewHappyPath(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.counts[showOriginalXPath] = 1
	page.texts[originalTextXPath] = "Café exquis, personnel impoli."
	ex, sessions := newTestExtractor(page)

	got, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 7, ExternalID: testExternalID})
	require.NoError(t, err)
	require.Equal(t, "Café Central", got.PlaceName)
	require.Equal(t, "Lovely coffee, rude staff.", got.Text)
	require.NotNil(t, got.OriginalText)
	require.Equal(t, "Café exquis, personnel impoli.", *got.OriginalText)
	require.Equal(t, 4, got.StarRating)
	require.Equal(t, int64(7), got.OwnerID)

	require.Equal(t, []bool{true}, sessions.consents)
	require.Equal(t, 1, page.backs)
	require.Equal(t, singleReview, page.url)
}

func TestLatestReviewDegradesSubExtractions(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.textErrs[reviewTextXPath] = errBoom
	page.counts[placeHeaderXPath] = 0
	ex, _ := newTestExtractor(page)

	got, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.NoError(t, err)
	require.Equal(t, NoTextSentinel, got.Text)
	require.Nil(t, got.OriginalText)
	require.Equal(t, UnknownPlace, got.PlaceName)
	require.Zero(t, page.backs)
}

func TestLatestReviewOriginalTextFailureLeavesItUnset(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.counts[showOriginalXPath] = 1
	ex, _ := newTestExtractor(page)

	got, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.NoError(t, err)
	require.Nil(t, got.OriginalText)
	require.Contains(t, page.clicks, showOriginalXPath)
}

func TestLatestReviewPlaceDetailNeverReached(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.onClick[placeHeaderXPath] = "https://www.google.com/maps/search/nowhere"
	ex, _ := newTestExtractor(page)

	got, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.NoError(t, err)
	require.Equal(t, UnknownPlace, got.PlaceName)
	require.Equal(t, 1, page.backs)
}

func TestLatestReviewNoReviews(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.counts[firstReviewXPath] = 0
	blobs := &memBlobs{}
	ex, _ := newTestExtractor(page, WithSnapshots(blobs, &seqIDs{}))

	_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.ErrorIs(t, err, tracker.ErrNoReviewsFound)
	require.Empty(t, blobs.objects, "no-review is not a defect and must not be snapshotted")
}

func TestLatestReviewUnrenderedFeedIsTimeout(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.counts[firstReviewXPath] = 0
	page.counts[reviewFeedXPath] = 0
	blobs := &memBlobs{}
	ex, _ := newTestExtractor(page, WithSnapshots(blobs, &seqIDs{}))

	_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.ErrorIs(t, err, tracker.ErrTimeout)
	require.NotErrorIs(t, err, tracker.ErrNoReviewsFound, "a slow page must not be recorded as a user without reviews")
	require.Contains(t, blobs.objects, testExternalID+"/review-id1.png")
}

func TestLatestReviewTracesProtocol(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	page := reviewPage()
	page.counts[firstReviewXPath] = 0
	page.counts[reviewFeedXPath] = 0
	ex, _ := newTestExtractor(page, WithTracer(tp.Tracer("extract-test")))

	_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.Error(t, err)
	_, err = ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 2, ExternalID: "other"})
	require.Error(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "extract.latest_review", ended[0].Name())
	require.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestLatestReviewStarRatingMissing(t *testing.T) {
	t.Parallel()

	page := reviewPage()
	page.attrs[starGlyphXPath] = nil
	blobs := &memBlobs{}
	ex, _ := newTestExtractor(page, WithSnapshots(blobs, &seqIDs{}))

	_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.ErrorIs(t, err, tracker.ErrStarRatingNotFound)
	require.Contains(t, blobs.objects, testExternalID+"/review-id1.png")
}

func TestLatestReviewHardFailuresBeforeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *fakePage)
		want   error
	}{
		{
			name:   "navigation",
			mutate: func(p *fakePage) { p.navErr = tracker.ErrNavigationFailed },
			want:   tracker.ErrNavigationFailed,
		},
		{
			name:   "review list marker never appears",
			mutate: func(p *fakePage) { delete(p.redirects, reviewListURL) },
			want:   tracker.ErrTimeout,
		},
		{
			name:   "single review page never loads",
			mutate: func(p *fakePage) { p.onClick[firstReviewXPath] = reviewListedAt },
			want:   tracker.ErrTimeout,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			page := reviewPage()
			tc.mutate(page)
			ex, _ := newTestExtractor(page)

			_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLatestReviewSessionFailure(t *testing.T) {
	t.Parallel()

	ex, sessions := newTestExtractor(reviewPage())
	sessions.err = tracker.ErrLaunchFailed

	_, err := ex.LatestReview(context.Background(), tracker.ExternalUser{ID: 1, ExternalID: testExternalID})
	require.ErrorIs(t, err, tracker.ErrLaunchFailed)
}

func profilePage() *fakePage {
	p := newFakePage()
	p.redirects[reviewListURL] = reviewListedAt
	p.texts[profileNameSelector] = "  Jane Reviewer \n"
	return p
}

func TestProfile(t *testing.T) {
	t.Parallel()

	ex, _ := newTestExtractor(profilePage())
	got, err := ex.Profile(context.Background(), testExternalID)
	require.NoError(t, err)
	require.Equal(t, tracker.Profile{ExternalID: testExternalID, DisplayName: "Jane Reviewer"}, got)
}

func TestProfileFailures(t *testing.T) {
	t.Parallel()

	t.Run("empty id", func(t *testing.T) {
		t.Parallel()
		ex, sessions := newTestExtractor(profilePage())
		_, err := ex.Profile(context.Background(), "  ")
		require.ErrorIs(t, err, tracker.ErrProfileLoadFailed)
		require.Empty(t, sessions.consents)
	})

	t.Run("navigation", func(t *testing.T) {
		t.Parallel()
		page := profilePage()
		page.navErr = tracker.ErrNavigationFailed
		ex, _ := newTestExtractor(page)
		_, err := ex.Profile(context.Background(), testExternalID)
		require.ErrorIs(t, err, tracker.ErrProfileLoadFailed)
		require.ErrorIs(t, err, tracker.ErrNavigationFailed)
	})

	t.Run("listing marker timeout", func(t *testing.T) {
		t.Parallel()
		page := profilePage()
		delete(page.redirects, reviewListURL)
		ex, _ := newTestExtractor(page)
		_, err := ex.Profile(context.Background(), testExternalID)
		require.ErrorIs(t, err, tracker.ErrProfileLoadFailed)
		require.ErrorIs(t, err, tracker.ErrTimeout)
	})

	t.Run("name heading missing", func(t *testing.T) {
		t.Parallel()
		page := profilePage()
		delete(page.texts, profileNameSelector)
		blobs := &memBlobs{}
		ex, _ := newTestExtractor(page, WithSnapshots(blobs, &seqIDs{}))
		_, err := ex.Profile(context.Background(), testExternalID)
		require.ErrorIs(t, err, tracker.ErrNameNotFound)
		require.Len(t, blobs.objects, 1)
	})

	t.Run("name heading blank", func(t *testing.T) {
		t.Parallel()
		page := profilePage()
		page.texts[profileNameSelector] = "   "
		ex, _ := newTestExtractor(page)
		_, err := ex.Profile(context.Background(), testExternalID)
		require.True(t, errors.Is(err, tracker.ErrNameNotFound))
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 10*time.Second, cfg.StepTimeout)
	require.Equal(t, 15*time.Second, cfg.ProfileTimeout)
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	require.Zero(t, cfg.TransitionPause)
	require.Equal(t, reviewListURL, cfg.reviewListURL(testExternalID))
	require.Equal(t, time.Second, DefaultConfig().TransitionPause)
}
