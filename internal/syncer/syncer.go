// Package syncer decides when a user's cached review must be re-extracted,
// whether a fresh extraction is a new review, and persists the result.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const defaultReviewAgeLimit = 24 * time.Hour

// Config tunes the freshness policy.
type Config struct {
	// ReviewAgeLimit is how long a cached review is served without re-extraction.
	ReviewAgeLimit time.Duration
}

// Service implements the synchronization policy on top of a repository and
// the page extractors.
type Service struct {
	repo     tracker.Repository
	reviews  tracker.ReviewSource
	profiles tracker.ProfileSource
	clock    tracker.Clock
	ageLimit time.Duration
	logger   *zap.Logger
}

// New wires a Service.
func New(
	repo tracker.Repository,
	reviews tracker.ReviewSource,
	profiles tracker.ProfileSource,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ageLimit := cfg.ReviewAgeLimit
	if ageLimit <= 0 {
		ageLimit = defaultReviewAgeLimit
	}
	return &Service{
		repo:     repo,
		reviews:  reviews,
		profiles: profiles,
		clock:    clock,
		ageLimit: ageLimit,
		logger:   logger,
	}
}

// AgeLimit returns how old a cached review may get before it is stale.
func (s *Service) AgeLimit() time.Duration {
	return s.ageLimit
}

// LatestReview returns the latest known review of userID, re-extracting it
// when the cache is missing or stale. A nil result means the user has no
// reviews. A stale cached review is returned when re-extraction fails.
func (s *Service) LatestReview(ctx context.Context, userID int64) (*tracker.ReviewWithOwner, error) {
	cached, err := s.repo.LatestReview(ctx, userID)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return s.extractFirst(ctx, userID)
	case err != nil:
		return nil, fmt.Errorf("load cached review: %w", err)
	}

	if !s.isStale(cached.Review) {
		return &cached, nil
	}

	logger := s.logger.With(zap.Int64("user_id", userID), zap.String("external_id", cached.Owner.ExternalID))
	fresh, err := s.reviews.LatestReview(ctx, cached.Owner)
	if err != nil {
		logger.Error("re-extraction failed, serving stale review", zap.Error(err))
		return &cached, nil
	}
	if !tracker.Differs(cached.Review, fresh) {
		return &cached, nil
	}
	replaced, err := s.repo.ReplaceReview(ctx, fresh, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("persist review: %w", err)
	}
	logger.Info("cached review replaced", zap.String("place", replaced.Review.PlaceName))
	return &replaced, nil
}

// NewReviewIfAny re-extracts the latest review of userID and returns it only
// when it differs from the cached one. A first-ever observation is persisted
// but not returned, so callers never notify on it.
func (s *Service) NewReviewIfAny(ctx context.Context, userID int64) (*tracker.ReviewWithOwner, error) {
	user, err := s.repo.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	logger := s.logger.With(zap.Int64("user_id", userID), zap.String("external_id", user.ExternalID))

	cached, err := s.repo.LatestReview(ctx, userID)
	hasCached := err == nil
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, fmt.Errorf("load cached review: %w", err)
	}

	fresh, err := s.reviews.LatestReview(ctx, user)
	if errors.Is(err, tracker.ErrNoReviewsFound) {
		logger.Info("user has no reviews")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract review: %w", err)
	}

	if hasCached && !tracker.Differs(cached.Review, fresh) {
		logger.Debug("review unchanged")
		return nil, nil
	}

	replaced, err := s.repo.ReplaceReview(ctx, fresh, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("persist review: %w", err)
	}
	if !hasCached {
		logger.Info("first review observed", zap.String("place", replaced.Review.PlaceName))
		return nil, nil
	}
	logger.Info("new review detected", zap.String("place", replaced.Review.PlaceName))
	return &replaced, nil
}

func (s *Service) extractFirst(ctx context.Context, userID int64) (*tracker.ReviewWithOwner, error) {
	user, err := s.repo.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	fresh, err := s.reviews.LatestReview(ctx, user)
	if errors.Is(err, tracker.ErrNoReviewsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract review: %w", err)
	}
	stored, err := s.repo.ReplaceReview(ctx, fresh, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("persist review: %w", err)
	}
	return &stored, nil
}

func (s *Service) isStale(r tracker.Review) bool {
	return s.clock.Now().Sub(r.ObservedAt) >= s.ageLimit
}

// LookupUser returns the user with externalID, reading the profile from the
// live site and storing it when the user is not known yet.
func (s *Service) LookupUser(ctx context.Context, externalID string) (tracker.ExternalUser, error) {
	u, err := s.repo.UserByExternalID(ctx, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, tracker.ErrNotFound) {
		return tracker.ExternalUser{}, fmt.Errorf("lookup user: %w", err)
	}

	profile, err := s.profiles.Profile(ctx, externalID)
	if err != nil {
		return tracker.ExternalUser{}, fmt.Errorf("lookup user %s: %w: %w", externalID, tracker.ErrNotFound, err)
	}
	u, err = s.repo.CreateUser(ctx, profile)
	if err != nil {
		return tracker.ExternalUser{}, fmt.Errorf("store user: %w", err)
	}
	s.logger.Info("user registered", zap.String("external_id", u.ExternalID), zap.String("name", u.DisplayName))
	return u, nil
}

// Follow records that channelID follows userID.
func (s *Service) Follow(
	ctx context.Context,
	userID int64,
	channelID string,
	wantsOriginal bool,
	endpointID string,
) (tracker.Following, error) {
	followed, err := s.repo.IsFollowed(ctx, userID, channelID)
	if err != nil {
		return tracker.Following{}, fmt.Errorf("follow: %w", err)
	}
	if followed {
		return tracker.Following{}, fmt.Errorf("follow: %w", tracker.ErrAlreadyFollowing)
	}
	return s.repo.Follow(ctx, tracker.Following{
		FollowedUserID:    userID,
		ChannelID:         channelID,
		EndpointID:        endpointID,
		WantsOriginalText: wantsOriginal,
	})
}

// Unfollow removes the following of userID in channelID and returns it.
func (s *Service) Unfollow(ctx context.Context, userID int64, channelID string) (tracker.Following, error) {
	return s.repo.Unfollow(ctx, userID, channelID)
}
