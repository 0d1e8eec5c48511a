// Package wait provides the polling primitives used by the page extractors to
// block until a tab reaches a URL or DOM condition.
package wait

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 100 * time.Millisecond

// ErrTimeout is returned when a condition did not hold before the deadline.
var ErrTimeout = errors.New("timed out waiting for condition")

// Condition reports whether the awaited state has been reached. An error aborts
// the wait immediately.
type Condition func(ctx context.Context) (bool, error)

// Clock abstracts time so the poll loop can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Poller runs conditions at a fixed interval.
type Poller struct {
	Interval time.Duration
	Clock    Clock
}

// New returns a Poller using the real clock.
func New(interval time.Duration) *Poller {
	return &Poller{Interval: interval, Clock: realClock{}}
}

// Until polls cond until it returns true, returns an error, the context ends or
// timeout elapses. The first check runs immediately.
func (p *Poller) Until(ctx context.Context, timeout time.Duration, cond Condition) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}

	start := clock.Now()
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if clock.Now().Sub(start) >= timeout {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait canceled: %w", ctx.Err())
		case <-clock.After(interval):
		}
	}
}

// Page is the subset of tab state the specialized waits read.
type Page interface {
	Location(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
}

// URLContains waits until the page URL contains substr.
func (p *Poller) URLContains(ctx context.Context, page Page, substr string, timeout time.Duration) error {
	err := p.Until(ctx, timeout, func(ctx context.Context) (bool, error) {
		current, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(current, substr), nil
	})
	if err != nil {
		return fmt.Errorf("url containing %q: %w", substr, err)
	}
	return nil
}

// URLMatches waits until the page URL matches pattern.
func (p *Poller) URLMatches(ctx context.Context, page Page, pattern *regexp.Regexp, timeout time.Duration) error {
	err := p.Until(ctx, timeout, func(ctx context.Context) (bool, error) {
		current, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		return pattern.MatchString(current), nil
	})
	if err != nil {
		return fmt.Errorf("url matching %q: %w", pattern.String(), err)
	}
	return nil
}

// URLChanges waits until the page URL differs from previous.
func (p *Poller) URLChanges(ctx context.Context, page Page, previous string, timeout time.Duration) error {
	err := p.Until(ctx, timeout, func(ctx context.Context) (bool, error) {
		current, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		return current != previous, nil
	})
	if err != nil {
		return fmt.Errorf("url leaving %q: %w", previous, err)
	}
	return nil
}

// DOMReady waits until document.readyState is "complete".
func (p *Poller) DOMReady(ctx context.Context, page Page, timeout time.Duration) error {
	err := p.Until(ctx, timeout, func(ctx context.Context) (bool, error) {
		state, err := page.ReadyState(ctx)
		if err != nil {
			return false, err
		}
		return state == "complete", nil
	})
	if err != nil {
		return fmt.Errorf("dom ready: %w", err)
	}
	return nil
}
