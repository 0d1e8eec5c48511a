// Package sweep runs the periodic synchronization of every followed user and
// schedules it.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/review-notifier/internal/metrics"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	tracerName     = "github.com/JakeFAU/review-notifier/internal/sweep"
	defaultLockKey = "review-notifier:sweep"
	defaultLockTTL = 2 * time.Hour
)

// Syncer detects new reviews for a single user.
type Syncer interface {
	NewReviewIfAny(ctx context.Context, userID int64) (*tracker.ReviewWithOwner, error)
	AgeLimit() time.Duration
}

// Notifier fans a changed review out to its followers.
type Notifier interface {
	Notify(ctx context.Context, review tracker.ReviewWithOwner) (int, error)
}

// Config tunes a sweep.
type Config struct {
	LockKey string
	LockTTL time.Duration
	// UserInterval is the minimum pause between two users; zero disables pacing.
	UserInterval time.Duration
	Topic        string
}

// Summary reports what a sweep did.
type Summary struct {
	ID         string `json:"id"`
	Followed   int    `json:"followed"`
	Candidates int    `json:"candidates"`
	Changed    int    `json:"changed"`
	Failed     int    `json:"failed"`
	Notified   int    `json:"notified"`
	Skipped    bool   `json:"skipped"`
}

// Runner executes sweeps.
type Runner struct {
	repo        tracker.Repository
	syncer      Syncer
	notifier    Notifier
	publisher   tracker.Publisher
	fingerprint tracker.Fingerprinter
	locker      tracker.Locker
	ids         tracker.IDGenerator
	clock       tracker.Clock
	tracer      trace.Tracer
	cfg         Config
	logger      *zap.Logger
}

// Deps groups the collaborators of a Runner.
type Deps struct {
	Repo        tracker.Repository
	Syncer      Syncer
	Notifier    Notifier
	Publisher   tracker.Publisher
	Fingerprint tracker.Fingerprinter
	Locker      tracker.Locker
	IDs         tracker.IDGenerator
	Clock       tracker.Clock
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// NewRunner validates deps and applies config defaults.
func NewRunner(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("sweep: repository is required")
	case deps.Syncer == nil:
		return nil, errors.New("sweep: syncer is required")
	case deps.Notifier == nil:
		return nil, errors.New("sweep: notifier is required")
	case deps.Locker == nil:
		return nil, errors.New("sweep: locker is required")
	case deps.IDs == nil:
		return nil, errors.New("sweep: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("sweep: clock is required")
	}
	if deps.Publisher != nil && deps.Fingerprint == nil {
		return nil, errors.New("sweep: fingerprinter is required to publish events")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.UserInterval < 0 {
		cfg.UserInterval = 0
	}
	return &Runner{
		repo:        deps.Repo,
		syncer:      deps.Syncer,
		notifier:    deps.Notifier,
		publisher:   deps.Publisher,
		fingerprint: deps.Fingerprint,
		locker:      deps.Locker,
		ids:         deps.IDs,
		clock:       deps.Clock,
		tracer:      deps.Tracer,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Run synchronizes every followed user whose cached review is past the age
// limit, one user at a time. A failure for one user is logged and the sweep
// moves on. Run returns early only when ctx is done or the user list cannot
// be read. When another sweep holds the lock the run is skipped.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.clock.Now()
	id, err := r.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("sweep id: %w", err)
	}
	summary := Summary{ID: id}
	logger := r.logger.With(zap.String("sweep_id", id))
	ctx, span := r.tracer.Start(ctx, "sweep.run", trace.WithAttributes(attribute.String("sweep.id", id)))
	defer span.End()

	ok, err := r.locker.Acquire(ctx, r.cfg.LockKey, r.cfg.LockTTL)
	if err != nil {
		metrics.ObserveSweep(metrics.StatusFailed, time.Since(start))
		span.SetStatus(codes.Error, "acquire sweep lock")
		return summary, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		logger.Info("sweep already running elsewhere, skipping")
		span.SetAttributes(attribute.Bool("sweep.skipped", true))
		summary.Skipped = true
		metrics.ObserveSweep(metrics.StatusSkipped, 0)
		return summary, nil
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), r.cfg.LockKey); err != nil {
			logger.Warn("release sweep lock", zap.Error(err))
		}
	}()

	err = r.sweep(ctx, logger, &summary)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("sweep.candidates", summary.Candidates),
		attribute.Int("sweep.changed", summary.Changed),
		attribute.Int("sweep.failed", summary.Failed))
	metrics.ObserveSweep(status, r.clock.Now().Sub(start))
	logger.Info("sweep finished",
		zap.Int("candidates", summary.Candidates),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed),
		zap.Int("notified", summary.Notified),
		zap.Duration("elapsed", r.clock.Now().Sub(start)))
	return summary, err
}

func (r *Runner) sweep(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	cutoff := r.clock.Now().Add(-r.syncer.AgeLimit())
	users, err := r.repo.StaleFollowedUsers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("select stale users: %w", err)
	}
	followed, err := r.repo.CountFollowedUsers(ctx)
	if err != nil {
		return fmt.Errorf("count followed users: %w", err)
	}
	summary.Followed = followed
	summary.Candidates = len(users)
	logger.Info(fmt.Sprintf("found %d/%d followed users past age limit", len(users), followed))

	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.cfg.UserInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.cfg.UserInterval), 1)
	}
	for _, user := range users {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sweep interrupted: %w", err)
		}
		r.syncUser(ctx, logger, user, summary)
	}
	return nil
}

func (r *Runner) syncUser(ctx context.Context, logger *zap.Logger, user tracker.ExternalUser, summary *Summary) {
	ctx, span := r.tracer.Start(ctx, "sweep.user", trace.WithAttributes(
		attribute.Int64("user.id", user.ID),
		attribute.String("user.external_id", user.ExternalID)))
	defer span.End()

	logger = logger.With(zap.Int64("user_id", user.ID), zap.String("external_id", user.ExternalID))
	review, err := r.syncer.NewReviewIfAny(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		summary.Failed++
		metrics.ObserveSweepUser(metrics.StatusFailed)
		logger.Error("sync user", zap.Error(err))
		return
	}
	if review == nil {
		metrics.ObserveSweepUser(metrics.StatusUnchanged)
		logger.Debug("no new review")
		return
	}
	summary.Changed++
	span.SetAttributes(attribute.Bool("review.changed", true))
	metrics.ObserveSweepUser(metrics.StatusChanged)
	logger.Info("new review", zap.String("place", review.Review.PlaceName), zap.Int("stars", review.Review.StarRating))

	n, err := r.notifier.Notify(ctx, *review)
	if err != nil {
		logger.Error("notify followers", zap.Error(err))
	}
	summary.Notified += n
	r.publish(ctx, logger, *review, summary.ID)
}

func (r *Runner) publish(ctx context.Context, logger *zap.Logger, review tracker.ReviewWithOwner, sweepID string) {
	if r.publisher == nil {
		return
	}
	event := newReviewChanged(review, r.fingerprint.Fingerprint(review.Review), sweepID)
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish review event", zap.Error(err))
		return
	}
	logger.Debug("review event published", zap.String("message_id", id))
}
