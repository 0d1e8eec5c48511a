package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/browser/wait"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	consentDomain      = "consent.google.com"
	acceptAllXPath     = `//form[contains(@action, "consent.google.com")]//button[contains(@aria-label, "Accept all")]`
	maxConsentAttempts = 5
)

func (b *Browser) acceptConsent(ctx context.Context) error {
	return b.WithTab(ctx, func(tab *Tab) error {
		if err := tab.Navigate(ctx, b.cfg.ConsentURL); err != nil {
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
		return runConsent(ctx, tab, b.poller, b.cfg.OpTimeout, b.logger)
	})
}

// runConsent clicks through the consent interstitial. Leaving the consent
// domain counts as success even when no button was found.
func runConsent(ctx context.Context, p Page, poller *wait.Poller, stepTimeout time.Duration, logger *zap.Logger) error {
	for attempt := 0; attempt < maxConsentAttempts; attempt++ {
		onConsent, err := onConsentDomain(ctx, p)
		if err != nil {
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
		if !onConsent {
			return nil
		}

		err = poller.Until(ctx, stepTimeout, func(ctx context.Context) (bool, error) {
			n, err := p.Count(ctx, acceptAllXPath)
			return n > 0, err
		})
		if err != nil {
			stillThere, locErr := onConsentDomain(ctx, p)
			if locErr == nil && !stillThere {
				return nil
			}
			return fmt.Errorf("%w: accept button not found: %w", tracker.ErrConsentFailed, err)
		}

		before, err := p.Location(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
		logger.Debug("accepting consent terms", zap.Int("attempt", attempt+1))
		if err := p.Click(ctx, acceptAllXPath); err != nil {
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
		// The old document stays "complete" until navigation commits.
		if err := poller.URLChanges(ctx, p, before, stepTimeout); err != nil {
			if errors.Is(err, wait.ErrTimeout) {
				logger.Debug("consent click did not navigate", zap.Int("attempt", attempt+1))
				continue
			}
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
		if err := poller.DOMReady(ctx, p, stepTimeout); err != nil {
			return fmt.Errorf("%w: %w", tracker.ErrConsentFailed, err)
		}
	}
	return fmt.Errorf("%w: still on consent page after %d attempts", tracker.ErrConsentFailed, maxConsentAttempts)
}

func onConsentDomain(ctx context.Context, p Page) (bool, error) {
	url, err := p.Location(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(url, consentDomain), nil
}
