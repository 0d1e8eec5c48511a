package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/JakeFAU/review-notifier/internal/browser"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// fakePage scripts a tab: navigation and clicks move the URL, selectors map to
// canned counts, texts and attributes.
type fakePage struct {
	url       string
	history   []string
	redirects map[string]string
	onClick   map[string]string
	counts    map[string]int
	texts     map[string]string
	textErrs  map[string]error
	attrs     map[string][]string
	navErr    error
	clicks    []string
	backs     int
}

func newFakePage() *fakePage {
	return &fakePage{
		redirects: map[string]string{},
		onClick:   map[string]string{},
		counts:    map[string]int{},
		texts:     map[string]string{},
		textErrs:  map[string]error{},
		attrs:     map[string][]string{},
	}
}

func (p *fakePage) visit(url string) {
	p.history = append(p.history, p.url)
	p.url = url
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	if p.navErr != nil {
		return p.navErr
	}
	if to, ok := p.redirects[url]; ok {
		url = to
	}
	p.visit(url)
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) ReadyState(context.Context) (string, error) { return "complete", nil }

func (p *fakePage) Count(_ context.Context, selector string) (int, error) {
	if n, ok := p.counts[selector]; ok {
		return n, nil
	}
	if _, ok := p.texts[selector]; ok {
		return 1, nil
	}
	return 0, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if n, _ := p.Count(ctx, selector); n == 0 {
		return tracker.ErrElementNotFound
	}
	p.clicks = append(p.clicks, selector)
	if to, ok := p.onClick[selector]; ok {
		p.visit(to)
	}
	return nil
}

func (p *fakePage) Text(_ context.Context, selector string) (string, error) {
	if err, ok := p.textErrs[selector]; ok {
		return "", err
	}
	text, ok := p.texts[selector]
	if !ok {
		return "", tracker.ErrElementNotFound
	}
	return text, nil
}

func (p *fakePage) Attributes(_ context.Context, selector, _ string) ([]string, error) {
	return p.attrs[selector], nil
}

func (p *fakePage) Back(context.Context) error {
	p.backs++
	if n := len(p.history); n > 0 {
		p.url, p.history = p.history[n-1], p.history[:n-1]
	}
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

var _ browser.Page = (*fakePage)(nil)

type fakeSessions struct {
	page     *fakePage
	err      error
	consents []bool
}

func (s *fakeSessions) Run(ctx context.Context, acceptConsent bool, fn func(context.Context, browser.Page) error) error {
	s.consents = append(s.consents, acceptConsent)
	if s.err != nil {
		return s.err
	}
	return fn(ctx, s.page)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = buf.Bytes()
	return "mem://" + path, nil
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "id" + strconv.Itoa(s.n), nil
}

var errBoom = errors.New("boom")
