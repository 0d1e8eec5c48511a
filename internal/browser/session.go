package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/browser/wait"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	defaultOpTimeout  = 10 * time.Second
	defaultConsentURL = "https://www.google.com/maps?hl=en"
)

// Config controls how browsers are launched.
type Config struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	UserAgent    string
	Lang         string
	WindowWidth  int
	WindowHeight int
	// OpTimeout bounds every single tab operation.
	OpTimeout    time.Duration
	PollInterval time.Duration
	ConsentURL   string
	// MaxBrowsers caps concurrently running browser processes.
	MaxBrowsers int
}

// Manager launches browsers and scopes tabs.
type Manager struct {
	cfg     Config
	limiter chan struct{}
	poller  *wait.Poller
	logger  *zap.Logger
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxBrowsers < 0 {
		return nil, fmt.Errorf("max browsers must be >= 0")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.ConsentURL == "" {
		cfg.ConsentURL = defaultConsentURL
	}
	if cfg.Lang == "" {
		cfg.Lang = "en-US"
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxBrowsers > 0 {
		limiter = make(chan struct{}, cfg.MaxBrowsers)
	}
	return &Manager{
		cfg:     cfg,
		limiter: limiter,
		poller:  wait.New(cfg.PollInterval),
		logger:  logger,
	}, nil
}

// Browser is one running Chrome instance.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	release       func()
	poller        *wait.Poller
	logger        *zap.Logger
}

// Acquire launches a browser. With acceptConsent the consent flow runs before
// the browser is returned.
func (m *Manager) Acquire(ctx context.Context, acceptConsent bool) (*Browser, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(m.logger.Sugar().Debugf))
	b := &Browser{
		cfg:           m.cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		release:       m.release,
		poller:        m.poller,
		logger:        m.logger,
	}

	// The first Run starts Chrome bound to the context it is given, so it must
	// be browserCtx itself. The launch is bounded by cancelling the allocator.
	err := launchWithin(ctx, m.cfg.OpTimeout*3,
		func() error { return chromedp.Run(browserCtx) },
		func() {
			browserCancel()
			allocCancel()
		})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: %w", tracker.ErrLaunchFailed, err)
	}
	m.logger.Debug("browser launched", zap.Bool("accept_consent", acceptConsent))

	if acceptConsent {
		if err := b.acceptConsent(ctx); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Run acquires a browser, opens one tab, runs fn and tears everything down.
func (m *Manager) Run(ctx context.Context, acceptConsent bool, fn func(context.Context, Page) error) error {
	b, err := m.Acquire(ctx, acceptConsent)
	if err != nil {
		return err
	}
	defer b.Close()
	return b.WithTab(ctx, func(tab *Tab) error {
		return fn(ctx, tab)
	})
}

// Close terminates the browser process and releases its slot.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocCancel()
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// OpenTab opens a stealth-configured tab. Callers must Close it; WithTab does
// that for them.
func (b *Browser) OpenTab(_ context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	tab := &Tab{
		ctx:       tabCtx,
		cancel:    cancel,
		opTimeout: b.cfg.OpTimeout,
		logger:    b.logger,
	}
	if err := chromedp.Run(tabCtx, stealthAction(b.cfg.UserAgent, b.cfg.Lang)); err != nil {
		tab.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return tab, nil
}

// WithTab opens a tab, runs fn and closes the tab on every exit path.
func (b *Browser) WithTab(ctx context.Context, fn func(*Tab) error) error {
	return withTab(func() (*Tab, error) { return b.OpenTab(ctx) }, fn)
}

func withTab(open func() (*Tab, error), fn func(*Tab) error) error {
	tab, err := open()
	if err != nil {
		return err
	}
	defer tab.Close()
	return fn(tab)
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", m.cfg.Lang),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	if m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if m.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	select {
	case m.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (m *Manager) release() {
	if m.limiter == nil {
		return
	}
	select {
	case <-m.limiter:
	default:
	}
}

// launchWithin runs start and calls abort when start has not returned before
// timeout elapses or ctx ends. It always waits for start to return.
func launchWithin(ctx context.Context, timeout time.Duration, start func() error, abort func()) error {
	done := make(chan error, 1)
	go func() { done <- start() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		abort()
		<-done
		return fmt.Errorf("browser not ready after %s", timeout)
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
