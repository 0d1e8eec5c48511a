package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// Page is the set of tab operations the extractors are written against.
// Selectors are XPath or CSS expressions understood by DOM.performSearch.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Attributes(ctx context.Context, selector, name string) ([]string, error)
	Back(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Tab is a single browser tab. Every operation is bounded by the tab's
// operation timeout and by the caller's context.
type Tab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opTimeout time.Duration
	closeOnce sync.Once
	logger    *zap.Logger
}

var _ Page = (*Tab)(nil)

// Close closes the tab. It is safe to call more than once.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	timeout := t.opTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	opCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads url and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("%w: %s: %w", tracker.ErrNavigationFailed, url, err)
	}
	return nil
}

// Location returns the current URL.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// ReadyState returns document.readyState.
func (t *Tab) ReadyState(ctx context.Context) (string, error) {
	var state string
	if err := t.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
		return "", fmt.Errorf("read ready state: %w", err)
	}
	return state, nil
}

// Count returns how many nodes currently match selector without waiting.
func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// Click clicks the first node matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	node, err := t.first(ctx, selector)
	if err != nil {
		return err
	}
	if err := t.run(ctx, chromedp.MouseClickNode(node)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Text returns the inner text of the first node matching selector.
func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	node, err := t.first(ctx, selector)
	if err != nil {
		return "", err
	}
	var text string
	if err := t.run(ctx, chromedp.Text([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text %s: %w", selector, err)
	}
	return text, nil
}

// Attributes returns attribute name of every node matching selector, in
// document order. Nodes without the attribute yield "".
func (t *Tab) Attributes(ctx context.Context, selector, name string) ([]string, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		values = append(values, n.AttributeValue(name))
	}
	return values, nil
}

// Back navigates one entry back in history without waiting.
func (t *Tab) Back(ctx context.Context) error {
	if err := t.run(ctx, chromedp.Evaluate(`window.history.back();`, nil)); err != nil {
		return fmt.Errorf("history back: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (t *Tab) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return nodes, nil
}

func (t *Tab) first(ctx context.Context, selector string) (*cdp.Node, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", tracker.ErrElementNotFound, selector)
	}
	return nodes[0], nil
}
