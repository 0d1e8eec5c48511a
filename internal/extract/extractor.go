package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/browser"
	"github.com/JakeFAU/review-notifier/internal/browser/wait"
	"github.com/JakeFAU/review-notifier/internal/metrics"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	tracerName  = "github.com/JakeFAU/review-notifier/internal/extract"
	kindReview  = "review"
	kindProfile = "profile"
)

// Sessions runs fn against a fresh tab of a fresh browser. The tab and the
// browser are released when fn returns.
type Sessions interface {
	Run(ctx context.Context, acceptConsent bool, fn func(context.Context, browser.Page) error) error
}

// Extractor runs the review and profile protocols.
type Extractor struct {
	sessions  Sessions
	cfg       Config
	poller    *wait.Poller
	snapshots tracker.BlobStore
	ids       tracker.IDGenerator
	tracer    trace.Tracer
	logger    *zap.Logger
}

var (
	_ tracker.ReviewSource  = (*Extractor)(nil)
	_ tracker.ProfileSource = (*Extractor)(nil)
)

// Option customizes an Extractor.
type Option func(*Extractor)

// WithSnapshots stores a screenshot of the tab whenever a protocol fails hard.
func WithSnapshots(store tracker.BlobStore, ids tracker.IDGenerator) Option {
	return func(e *Extractor) {
		e.snapshots = store
		e.ids = ids
	}
}

// WithPoller overrides the wait poller, mostly for tests.
func WithPoller(p *wait.Poller) Option {
	return func(e *Extractor) {
		e.poller = p
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Extractor) {
		e.tracer = t
	}
}

// New builds an Extractor.
func New(sessions Sessions, cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	e := &Extractor{
		sessions: sessions,
		cfg:      cfg,
		poller:   wait.New(cfg.PollInterval),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LatestReview extracts the most recent review written by user.
func (e *Extractor) LatestReview(ctx context.Context, user tracker.ExternalUser) (tracker.CandidateReview, error) {
	start := time.Now()
	logger := e.logger.With(zap.String("external_id", user.ExternalID), zap.Int64("user_id", user.ID))
	ctx, span := e.tracer.Start(ctx, "extract.latest_review", trace.WithAttributes(
		attribute.String("user.external_id", user.ExternalID)))
	defer span.End()

	var candidate tracker.CandidateReview
	err := e.sessions.Run(ctx, true, func(ctx context.Context, p browser.Page) error {
		c, err := e.readLatestReview(ctx, p, user, logger)
		if err != nil {
			if !errors.Is(err, tracker.ErrNoReviewsFound) {
				e.snapshot(ctx, p, user.ExternalID, kindReview, logger)
			}
			return err
		}
		candidate = c
		return nil
	})

	status := metrics.StatusSuccess
	switch {
	case errors.Is(err, tracker.ErrNoReviewsFound):
		status = metrics.StatusNoReviews
	case err != nil:
		status = metrics.StatusFailed
	}
	metrics.ObserveExtraction(kindReview, status, time.Since(start))
	span.SetAttributes(attribute.String("extract.status", status))

	if err != nil {
		if status == metrics.StatusFailed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return tracker.CandidateReview{}, fmt.Errorf("latest review of %s: %w", user.ExternalID, err)
	}
	return candidate, nil
}

func (e *Extractor) readLatestReview(ctx context.Context, p browser.Page, user tracker.ExternalUser, logger *zap.Logger) (tracker.CandidateReview, error) {
	if err := e.openReviewList(ctx, p, user.ExternalID); err != nil {
		return tracker.CandidateReview{}, err
	}
	logger.Debug("review list loaded")

	if err := e.openFirstReview(ctx, p, user.ExternalID); err != nil {
		return tracker.CandidateReview{}, err
	}
	logger.Debug("single review loaded")

	text := e.reviewText(ctx, p, logger)
	original := e.originalText(ctx, p, logger)

	stars, err := e.starRating(ctx, p)
	if err != nil {
		return tracker.CandidateReview{}, err
	}
	logger.Debug("star rating read", zap.Int("stars", stars))

	place := e.placeName(ctx, p, logger)
	logger.Debug("place name read", zap.String("place", place))

	return tracker.CandidateReview{
		PlaceName:    place,
		Text:         text,
		OriginalText: original,
		StarRating:   stars,
		OwnerID:      user.ID,
	}, nil
}

func (e *Extractor) openReviewList(ctx context.Context, p browser.Page, externalID string) error {
	if err := p.Navigate(ctx, e.cfg.reviewListURL(url.PathEscape(externalID))); err != nil {
		return err
	}
	if err := e.poller.URLContains(ctx, p, reviewListMarker, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("review list: %w", err)
	}
	if err := e.poller.DOMReady(ctx, p, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("review list: %w", err)
	}
	return nil
}

// openFirstReview opens the newest review. The user has no reviews only when
// the review feed rendered and stayed empty; a page that rendered nothing
// before the timeout is a timeout.
func (e *Extractor) openFirstReview(ctx context.Context, p browser.Page, externalID string) error {
	feedRendered := false
	err := e.poller.Until(ctx, e.cfg.StepTimeout, func(ctx context.Context) (bool, error) {
		n, err := p.Count(ctx, firstReviewXPath)
		if err != nil || n > 0 {
			return n > 0, err
		}
		if !feedRendered {
			feeds, err := p.Count(ctx, reviewFeedXPath)
			if err != nil {
				return false, err
			}
			feedRendered = feeds > 0
		}
		return false, nil
	})
	switch {
	case errors.Is(err, tracker.ErrTimeout) && feedRendered:
		return fmt.Errorf("%w for %s", tracker.ErrNoReviewsFound, externalID)
	case err != nil:
		return fmt.Errorf("first review: %w", err)
	}
	if err := p.Click(ctx, firstReviewXPath); err != nil {
		return fmt.Errorf("open first review: %w", err)
	}
	if err := e.pause(ctx); err != nil {
		return err
	}
	if err := e.poller.URLMatches(ctx, p, singleReviewURLPattern, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("single review: %w", err)
	}
	if err := e.poller.DOMReady(ctx, p, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("single review: %w", err)
	}
	return nil
}

func (e *Extractor) reviewText(ctx context.Context, p browser.Page, logger *zap.Logger) string {
	text, err := p.Text(ctx, reviewTextXPath)
	if err != nil {
		logger.Warn("review text unavailable", zap.Error(err))
		return NoTextSentinel
	}
	return text
}

// originalText returns nil when the review has no translation toggle or the
// original could not be read after toggling.
func (e *Extractor) originalText(ctx context.Context, p browser.Page, logger *zap.Logger) *string {
	n, err := p.Count(ctx, showOriginalXPath)
	if err != nil || n == 0 {
		return nil
	}
	if err := p.Click(ctx, showOriginalXPath); err != nil {
		logger.Warn("show original toggle failed", zap.Error(err))
		return nil
	}
	if err := e.pause(ctx); err != nil {
		return nil
	}
	text, err := p.Text(ctx, originalTextXPath)
	if err != nil {
		logger.Warn("original text unavailable", zap.Error(err))
		return nil
	}
	return &text
}

// starRating counts glyphs sharing the first glyph's class, which is taken to
// be the filled marker.
func (e *Extractor) starRating(ctx context.Context, p browser.Page) (int, error) {
	classes, err := p.Attributes(ctx, starGlyphXPath, "class")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", tracker.ErrStarRatingNotFound, err)
	}
	if len(classes) == 0 {
		return 0, tracker.ErrStarRatingNotFound
	}
	filled := classes[0]
	stars := 0
	for _, c := range classes {
		if c == filled {
			stars++
		}
	}
	return stars, nil
}

func (e *Extractor) placeName(ctx context.Context, p browser.Page, logger *zap.Logger) string {
	if err := p.Click(ctx, placeHeaderXPath); err != nil {
		logger.Warn("place header unavailable", zap.Error(err))
		return UnknownPlace
	}
	defer func() {
		if err := p.Back(ctx); err != nil {
			logger.Warn("navigate back from place failed", zap.Error(err))
		}
	}()

	if err := e.poller.URLMatches(ctx, p, placeDetailURLPattern, e.cfg.StepTimeout); err != nil {
		logger.Warn("place detail page not reached", zap.Error(err))
		return UnknownPlace
	}
	if err := e.poller.DOMReady(ctx, p, e.cfg.StepTimeout); err != nil {
		logger.Warn("place detail page not ready", zap.Error(err))
	}
	loc, err := p.Location(ctx)
	if err != nil {
		logger.Warn("place detail location unavailable", zap.Error(err))
		return UnknownPlace
	}
	return PlaceNameFromURL(loc)
}

// Profile reads the display name of externalID.
func (e *Extractor) Profile(ctx context.Context, externalID string) (tracker.Profile, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return tracker.Profile{}, fmt.Errorf("%w: empty external id", tracker.ErrProfileLoadFailed)
	}
	start := time.Now()
	logger := e.logger.With(zap.String("external_id", externalID))
	ctx, span := e.tracer.Start(ctx, "extract.profile", trace.WithAttributes(
		attribute.String("user.external_id", externalID)))
	defer span.End()

	var profile tracker.Profile
	err := e.sessions.Run(ctx, true, func(ctx context.Context, p browser.Page) error {
		name, err := e.readProfileName(ctx, p, externalID)
		if err != nil {
			e.snapshot(ctx, p, externalID, kindProfile, logger)
			return err
		}
		profile = tracker.Profile{ExternalID: externalID, DisplayName: name}
		return nil
	})

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.ObserveExtraction(kindProfile, status, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tracker.Profile{}, fmt.Errorf("profile of %s: %w", externalID, err)
	}
	logger.Debug("profile read", zap.String("name", profile.DisplayName))
	return profile, nil
}

func (e *Extractor) readProfileName(ctx context.Context, p browser.Page, externalID string) (string, error) {
	if err := p.Navigate(ctx, e.cfg.reviewListURL(url.PathEscape(externalID))); err != nil {
		return "", fmt.Errorf("%w: %w", tracker.ErrProfileLoadFailed, err)
	}
	if err := e.poller.URLContains(ctx, p, profileListMarker, e.cfg.ProfileTimeout); err != nil {
		return "", fmt.Errorf("%w: %w", tracker.ErrProfileLoadFailed, err)
	}

	err := e.poller.Until(ctx, e.cfg.StepTimeout, func(ctx context.Context) (bool, error) {
		n, err := p.Count(ctx, profileNameSelector)
		return n > 0, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", tracker.ErrNameNotFound, err)
	}
	name, err := p.Text(ctx, profileNameSelector)
	if err != nil {
		return "", fmt.Errorf("%w: %w", tracker.ErrNameNotFound, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty heading", tracker.ErrNameNotFound)
	}
	return name, nil
}

func (e *Extractor) pause(ctx context.Context) error {
	if e.cfg.TransitionPause <= 0 {
		return nil
	}
	t := time.NewTimer(e.cfg.TransitionPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// snapshot stores a screenshot of the failing tab. Failures are only logged.
func (e *Extractor) snapshot(ctx context.Context, p browser.Page, externalID, kind string, logger *zap.Logger) {
	if e.snapshots == nil || e.ids == nil {
		return
	}
	png, err := p.Screenshot(ctx)
	if err != nil {
		logger.Warn("failure screenshot unavailable", zap.Error(err))
		return
	}
	id, err := e.ids.NewID()
	if err != nil {
		logger.Warn("failure screenshot id", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s-%s.png", url.PathEscape(externalID), kind, id)
	uri, err := e.snapshots.PutObject(ctx, path, "image/png", bytes.NewReader(png))
	if err != nil {
		logger.Warn("failure screenshot upload", zap.Error(err))
		return
	}
	logger.Info("failure screenshot stored", zap.String("uri", uri))
}
