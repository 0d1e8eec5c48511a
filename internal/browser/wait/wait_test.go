package wait

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fakePage struct {
	urls  []string
	calls int
	state string
}

func (p *fakePage) Location(context.Context) (string, error) {
	idx := p.calls
	if idx >= len(p.urls) {
		idx = len(p.urls) - 1
	}
	p.calls++
	return p.urls[idx], nil
}

func (p *fakePage) ReadyState(context.Context) (string, error) {
	return p.state, nil
}

func TestUntilReturnsImmediatelyWhenTrue(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	p := &Poller{Interval: 100 * time.Millisecond, Clock: clock}
	calls := 0
	err := p.Until(context.Background(), time.Second, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, time.Unix(0, 0), clock.Now())
}

func TestUntilTimesOutWithFakeClock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	p := &Poller{Interval: 100 * time.Millisecond, Clock: clock}
	calls := 0
	err := p.Until(context.Background(), 200*time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 3, calls)
}

func TestUntilTimesOutWithinBudget(t *testing.T) {
	t.Parallel()

	p := New(100 * time.Millisecond)
	start := time.Now()
	err := p.Until(context.Background(), 200*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 300*time.Millisecond)
}

func TestUntilPropagatesConditionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &Poller{Clock: &fakeClock{}}
	err := p.Until(context.Background(), time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestUntilStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(10 * time.Millisecond)
	err := p.Until(ctx, time.Minute, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestURLContains(t *testing.T) {
	t.Parallel()

	page := &fakePage{urls: []string{"https://maps/contrib/1", "https://maps/contrib/1/reviews/@1,2"}}
	p := &Poller{Interval: 100 * time.Millisecond, Clock: &fakeClock{}}
	require.NoError(t, p.URLContains(context.Background(), page, "reviews/@", time.Second))
	require.Equal(t, 2, page.calls)
}

func TestURLMatchesTimeout(t *testing.T) {
	t.Parallel()

	page := &fakePage{urls: []string{"https://maps/contrib/1"}}
	p := &Poller{Interval: 100 * time.Millisecond, Clock: &fakeClock{}}
	err := p.URLMatches(context.Background(), page, regexp.MustCompile(`/place/.+/@`), 500*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestDOMReady(t *testing.T) {
	t.Parallel()

	p := &Poller{Clock: &fakeClock{}}
	require.NoError(t, p.DOMReady(context.Background(), &fakePage{state: "complete"}, time.Second))
	err := p.DOMReady(context.Background(), &fakePage{state: "loading"}, time.Second)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestURLChanges(t *testing.T) {
	t.Parallel()

	consent := "https://consent.google.com/ml"
	page := &fakePage{urls: []string{consent, consent, consent, "https://www.google.com/maps"}}
	p := &Poller{Interval: 100 * time.Millisecond, Clock: &fakeClock{}}
	require.NoError(t, p.URLChanges(context.Background(), page, consent, time.Second))
	require.Equal(t, 4, page.calls)

	stuck := &fakePage{urls: []string{consent}}
	err := p.URLChanges(context.Background(), stuck, consent, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}
