package headless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

func TestMechanismKinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, crawl.MechanismBrowser, NewBrowser(Config{}).Kind())
	assert.Equal(t, crawl.MechanismConstrained, NewConstrained(Config{}).Kind())
	assert.Equal(t, WaitNetworkIdle, NewBrowser(Config{}).policy)
	assert.Equal(t, WaitDOMContentLoaded, NewConstrained(Config{}).policy)
}

func TestMechanismDefaults(t *testing.T) {
	t.Parallel()

	m := NewBrowser(Config{})
	assert.Equal(t, defaultNavigationTimeout, m.cfg.NavigationTimeout)
	assert.Equal(t, defaultIdleTimeout, m.cfg.IdleTimeout)
	assert.Equal(t, 1366, m.cfg.WindowWidth)
	assert.Equal(t, 768, m.cfg.WindowHeight)
	assert.NotNil(t, m.cfg.Logger)
}

func TestAllocatorOptionsIncludeOverrides(t *testing.T) {
	t.Parallel()

	base := len(NewBrowser(Config{}).allocatorOptions(""))
	withBoth := NewConstrained(Config{ExecPath: "/opt/chrome"}).allocatorOptions("agent")
	assert.Equal(t, base+2, len(withBoth))
}

func TestOpenMissingExecutable(t *testing.T) {
	t.Parallel()

	m := NewConstrained(Config{ExecPath: filepath.Join(t.TempDir(), "no-chrome")})
	_, err := m.Open(context.Background(), crawl.Acquisition{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ranking.ErrMechanismUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	u := NewUnavailable(crawl.MechanismBrowser, "disabled by configuration")
	assert.Equal(t, crawl.MechanismBrowser, u.Kind())
	_, err := u.Open(context.Background(), crawl.Acquisition{})
	require.ErrorIs(t, err, ranking.ErrMechanismUnavailable)
	assert.Contains(t, err.Error(), "disabled by configuration")
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"User-Agent":      {"ignored"},
		"Referer":         {"https://www.qidian.com/"},
		"Accept-Language": {"zh-CN", "zh;q=0.9"},
		"X-Empty":         {},
	})
	assert.Equal(t, "https://www.qidian.com/", headers["Referer"])
	assert.Equal(t, "zh-CN, zh;q=0.9", headers["Accept-Language"])
	assert.NotContains(t, headers, "User-Agent")
	assert.NotContains(t, headers, "X-Empty")
}

func TestLifecycleWatcherIgnoresEventsBeforeInit(t *testing.T) {
	t.Parallel()

	w := newLifecycleWatcher()
	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleNetworkAlmostIdle})
	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleDOMContentLoaded})
	assertOpen(t, w.domReady)
	assertOpen(t, w.idle)

	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleInit})
	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleDOMContentLoaded})
	assertClosed(t, w.domReady)
	assertOpen(t, w.idle)

	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleNetworkAlmostIdle})
	w.captureEvent(&page.EventLifecycleEvent{Name: lifecycleNetworkAlmostIdle})
	assertClosed(t, w.idle)

	// Unrelated events are ignored.
	w.captureEvent(&page.EventFrameNavigated{})
}

func TestBrowserLoadsRenderedPage(t *testing.T) {
	t.Parallel()
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div id="list"></div><script>
document.getElementById('list').innerHTML =
  '<div class="rank-view-list"><a href="/book/77/">x</a></div><span id="ua">' + navigator.webdriver + '</span>';
</script></body></html>`))
	}))
	t.Cleanup(srv.Close)

	for _, m := range []*Mechanism{NewBrowser(Config{IdleTimeout: time.Second}), NewConstrained(Config{})} {
		t.Run(string(m.Kind()), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			sess, err := m.Open(ctx, crawl.Acquisition{
				Headers:     http.Header{"User-Agent": {"rank-test"}, "Referer": {srv.URL}},
				PageTimeout: 20 * time.Second,
			})
			require.NoError(t, err)
			defer func() { assert.NoError(t, sess.Close()) }()

			doc, err := sess.Load(ctx, crawl.PageRequest{
				URL:          srv.URL,
				WaitSelector: crawl.RankingContainerSelector,
				WaitTimeout:  5 * time.Second,
			})
			require.NoError(t, err)
			href, ok := doc.Find(".rank-view-list a").Attr("href")
			assert.True(t, ok)
			assert.Equal(t, "/book/77/", href)
			assert.Equal(t, "undefined", doc.Find("#ua").Text())
		})
	}
}

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("chrome not installed")
}

func assertClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	default:
		t.Fatal("expected channel to be closed")
	}
}

func assertOpen(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("expected channel to be open")
	default:
	}
}
