// Package notify fans a changed review out to every channel following its
// author, reconciling each channel's delivery endpoint on the way.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/metrics"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	defaultStarText        = "⭐"
	defaultEndpointName    = "Google Maps Reviews"
	defaultDeliveryTimeout = 30 * time.Second
)

// Config tunes message composition and delivery.
type Config struct {
	StarText     string
	EndpointName string
	// AgeLimit is quoted in the footer as the maximum staleness of a review.
	AgeLimit        time.Duration
	DeliveryTimeout time.Duration
}

// Dispatcher delivers review notifications.
type Dispatcher struct {
	repo      tracker.Repository
	messenger tracker.Messenger
	cfg       Config
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New builds a Dispatcher.
func New(repo tracker.Repository, messenger tracker.Messenger, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StarText == "" {
		cfg.StarText = defaultStarText
	}
	if cfg.EndpointName == "" {
		cfg.EndpointName = defaultEndpointName
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	return &Dispatcher{
		repo:      repo,
		messenger: messenger,
		cfg:       cfg,
		logger:    logger,
	}
}

// Notify starts one independent delivery per follower of the review's owner
// and returns without waiting for them. It returns the number of deliveries
// started. Deliveries outlive ctx's cancellation but not DeliveryTimeout.
func (d *Dispatcher) Notify(ctx context.Context, review tracker.ReviewWithOwner) (int, error) {
	followers, err := d.repo.FollowersOf(ctx, review.Owner.ID)
	if err != nil {
		return 0, fmt.Errorf("resolve followers: %w", err)
	}
	base := context.WithoutCancel(ctx)
	for _, f := range followers {
		d.wg.Add(1)
		metrics.IncInflightDeliveries()
		go func(f tracker.Following) {
			defer d.wg.Done()
			defer metrics.DecInflightDeliveries()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("delivery panicked", zap.Int64("following_id", f.ID), zap.Any("panic", r))
				}
			}()
			deliveryCtx, cancel := context.WithTimeout(base, d.cfg.DeliveryTimeout)
			defer cancel()
			if err := d.Deliver(deliveryCtx, f, review); err != nil {
				d.logger.Error("delivery failed",
					zap.Int64("following_id", f.ID),
					zap.String("channel_id", f.ChannelID),
					zap.String("external_id", review.Owner.ExternalID),
					zap.Error(err))
			}
		}(f)
	}
	d.logger.Debug("deliveries dispatched",
		zap.String("external_id", review.Owner.ExternalID),
		zap.Int("followers", len(followers)))
	return len(followers), nil
}

// Wait blocks until every delivery started by Notify has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends review to a single follower. The stored endpoint is verified
// first: a permission failure abandons the delivery, any other failure
// replaces the endpoint and records the new id before sending.
func (d *Dispatcher) Deliver(ctx context.Context, f tracker.Following, review tracker.ReviewWithOwner) error {
	endpointID, err := d.reconcile(ctx, f)
	if err != nil {
		return err
	}
	if err := d.messenger.Send(ctx, endpointID, d.Compose(review.Review, review.Owner, f.WantsOriginalText)); err != nil {
		metrics.ObserveDelivery(metrics.StatusFailed)
		return fmt.Errorf("send to %s: %w", f.ChannelID, err)
	}
	metrics.ObserveDelivery(metrics.StatusSuccess)
	return nil
}

func (d *Dispatcher) reconcile(ctx context.Context, f tracker.Following) (string, error) {
	err := d.messenger.VerifyEndpoint(ctx, f.EndpointID)
	if err == nil {
		return f.EndpointID, nil
	}
	if errors.Is(err, tracker.ErrEndpointPermissionDenied) {
		metrics.ObserveDelivery(metrics.StatusAbandoned)
		return "", fmt.Errorf("verify endpoint of %s: %w", f.ChannelID, err)
	}

	logger := d.logger.With(zap.Int64("following_id", f.ID), zap.String("channel_id", f.ChannelID))
	logger.Warn("delivery endpoint invalid, recreating", zap.String("endpoint_id", f.EndpointID), zap.Error(err))
	newID, err := d.messenger.CreateEndpoint(ctx, f.ChannelID, d.cfg.EndpointName)
	if err != nil {
		metrics.ObserveDelivery(metrics.StatusFailed)
		return "", fmt.Errorf("recreate endpoint in %s: %w", f.ChannelID, err)
	}
	metrics.ObserveDelivery(metrics.StatusRecreated)
	if newID != f.EndpointID {
		if err := d.repo.UpdateEndpoint(ctx, f.ID, newID); err != nil {
			logger.Error("store recreated endpoint", zap.String("endpoint_id", newID), zap.Error(err))
		}
	}
	return newID, nil
}

// ProvisionEndpoint creates a delivery endpoint in channelID for a new following.
func (d *Dispatcher) ProvisionEndpoint(ctx context.Context, channelID string) (string, error) {
	id, err := d.messenger.CreateEndpoint(ctx, channelID, d.cfg.EndpointName)
	if err != nil {
		return "", fmt.Errorf("create endpoint in %s: %w", channelID, err)
	}
	return id, nil
}

// Retire deletes the delivery endpoint of a following that was removed.
func (d *Dispatcher) Retire(ctx context.Context, f tracker.Following, user tracker.ExternalUser) error {
	reason := fmt.Sprintf("Unfollowed %s", user.DisplayName)
	if err := d.messenger.DeleteEndpoint(ctx, f.EndpointID, reason); err != nil {
		return fmt.Errorf("retire endpoint of %s: %w", f.ChannelID, err)
	}
	return nil
}

// Compose renders a review as a message, choosing the body a follower asked for.
func (d *Dispatcher) Compose(r tracker.Review, owner tracker.ExternalUser, wantsOriginal bool) tracker.Message {
	stars := r.StarRating
	if stars < 0 {
		stars = 0
	}
	return tracker.Message{
		Title:     r.PlaceName,
		Author:    owner.DisplayName,
		Stars:     strings.Repeat(d.cfg.StarText, stars),
		Body:      r.TextFor(wantsOriginal),
		Footer:    fmt.Sprintf("Due to caching, this review may be up to %d hours old.", int(d.cfg.AgeLimit.Hours())),
		Timestamp: r.ObservedAt,
	}
}
