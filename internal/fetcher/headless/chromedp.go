// Package headless contains acquisition mechanisms that execute JavaScript
// in a Chrome browser driven by chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// WaitPolicy decides when a navigation counts as complete.
type WaitPolicy int

const (
	// WaitNetworkIdle waits for the load event, then for network quiescence
	// for at most Config.IdleTimeout.
	WaitNetworkIdle WaitPolicy = iota
	// WaitDOMContentLoaded returns as soon as the document is parsed.
	WaitDOMContentLoaded
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleTimeout       = 5 * time.Second
	snapshotTimeout          = 10 * time.Second
)

// hideWebdriver masks the navigator.webdriver automation flag.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Config controls one browser profile.
type Config struct {
	// ExecPath points at the browser binary. Empty lets chromedp search the PATH.
	ExecPath          string
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
	WindowWidth       int
	WindowHeight      int
	Logger            *zap.Logger
}

// Mechanism launches one browser per session.
type Mechanism struct {
	kind   crawl.MechanismKind
	policy WaitPolicy
	cfg    Config
}

// NewBrowser returns the full browser automation mechanism. It waits for the
// network to settle after every navigation.
func NewBrowser(cfg Config) *Mechanism {
	return newMechanism(crawl.MechanismBrowser, WaitNetworkIdle, cfg)
}

// NewConstrained returns the headless mechanism for constrained environments.
// Navigation completes at DOMContentLoaded and ExecPath, when set, must exist.
func NewConstrained(cfg Config) *Mechanism {
	return newMechanism(crawl.MechanismConstrained, WaitDOMContentLoaded, cfg)
}

func newMechanism(kind crawl.MechanismKind, policy WaitPolicy, cfg Config) *Mechanism {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1366, 768
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Mechanism{kind: kind, policy: policy, cfg: cfg}
}

// Kind implements crawl.Mechanism.
func (m *Mechanism) Kind() crawl.MechanismKind {
	return m.kind
}

// Open launches the browser and prepares a tab with the acquisition headers.
// Launch failures wrap ranking.ErrMechanismUnavailable.
func (m *Mechanism) Open(ctx context.Context, acq crawl.Acquisition) (crawl.Session, error) {
	if m.cfg.ExecPath != "" {
		if _, err := os.Stat(m.cfg.ExecPath); err != nil {
			return nil, fmt.Errorf("%s browser %q: %w", m.kind, m.cfg.ExecPath, errors.Join(ranking.ErrMechanismUnavailable, err))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, m.allocatorOptions(acq.UserAgent())...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx, setupAction(acq.UserAgent(), acq.Headers)); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch %s browser: %w", m.kind, errors.Join(ranking.ErrMechanismUnavailable, err))
	}

	timeout := acq.PageTimeout
	if timeout <= 0 {
		timeout = m.cfg.NavigationTimeout
	}
	return &session{
		mech:        m,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		timeout:     timeout,
		logger:      m.cfg.Logger.With(zap.String("mechanism", string(m.kind))),
	}, nil
}

func (m *Mechanism) allocatorOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

func setupAction(userAgent string, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx); err != nil {
			return fmt.Errorf("mask webdriver: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		return nil
	})
}

type session struct {
	mech        *Mechanism
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *zap.Logger
}

// Load navigates the session tab to req.URL and returns the rendered DOM.
func (s *session) Load(ctx context.Context, req crawl.PageRequest) (*goquery.Document, error) {
	opCtx, opCancel := context.WithCancel(s.tabCtx)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	watcher := newLifecycleWatcher()
	chromedp.ListenTarget(opCtx, watcher.captureEvent)

	if err := s.navigate(opCtx, req.URL, watcher); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("navigate %s: %w", req.URL, ctxErr)
		}
		return nil, fmt.Errorf("navigate %s: %w", req.URL, err)
	}

	if req.WaitSelector != "" && req.WaitTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(opCtx, req.WaitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(req.WaitSelector, chromedp.ByQuery))
		cancel()
		if err != nil {
			s.logger.Debug("wait selector not satisfied",
				zap.String("url", req.URL), zap.String("selector", req.WaitSelector), zap.Error(err))
		}
	}

	var html string
	snapCtx, cancel := context.WithTimeout(opCtx, snapshotTimeout)
	defer cancel()
	if err := chromedp.Run(snapCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", req.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.URL, err)
	}
	return doc, nil
}

func (s *session) navigate(ctx context.Context, url string, watcher *lifecycleWatcher) error {
	navCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.mech.policy == WaitDOMContentLoaded {
		return navigateUntilDOMReady(navCtx, url, watcher)
	}

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	idle := time.NewTimer(s.mech.cfg.IdleTimeout)
	defer idle.Stop()
	select {
	case <-watcher.idle:
	case <-idle.C:
		s.logger.Debug("network did not settle", zap.String("url", url))
	case <-navCtx.Done():
		return fmt.Errorf("wait for network idle: %w", navCtx.Err())
	}
	return nil
}

// navigateUntilDOMReady returns once DOMContentLoaded fires, abandoning the
// wait for the load event.
func navigateUntilDOMReady(ctx context.Context, url string, watcher *lifecycleWatcher) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, chromedp.Navigate(url))
	}()

	select {
	case <-watcher.domReady:
		cancel()
		<-done
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("chromedp navigate: %w", err)
		}
		return nil
	}
}

// Close shuts the browser down and releases the allocator.
func (s *session) Close() error {
	err := chromedp.Cancel(s.tabCtx)
	s.tabCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close %s browser: %w", s.mech.kind, err)
	}
	return nil
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 || strings.EqualFold(key, "User-Agent") {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = strings.Join(values, ", ")
		}
	}
	return headers
}
