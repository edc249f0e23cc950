package headless

import (
	"sync"

	"github.com/chromedp/cdproto/page"
)

// Lifecycle event names emitted by Chrome for a committed document.
const (
	lifecycleInit              = "init"
	lifecycleDOMContentLoaded  = "DOMContentLoaded"
	lifecycleNetworkAlmostIdle = "networkAlmostIdle"
)

// lifecycleWatcher turns page lifecycle events into one-shot signals. Events
// are ignored until an "init" marks the start of a new document, so signals
// left over from the previous page never fire.
type lifecycleWatcher struct {
	mu       sync.Mutex
	started  bool
	domReady chan struct{}
	idle     chan struct{}
	domOnce  sync.Once
	idleOnce sync.Once
}

func newLifecycleWatcher() *lifecycleWatcher {
	return &lifecycleWatcher{
		domReady: make(chan struct{}),
		idle:     make(chan struct{}),
	}
}

func (w *lifecycleWatcher) captureEvent(ev any) {
	if lc, ok := ev.(*page.EventLifecycleEvent); ok {
		w.observe(lc.Name)
	}
}

func (w *lifecycleWatcher) observe(name string) {
	w.mu.Lock()
	if name == lifecycleInit {
		w.started = true
	}
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	switch name {
	case lifecycleDOMContentLoaded:
		w.domOnce.Do(func() { close(w.domReady) })
	case lifecycleNetworkAlmostIdle:
		w.idleOnce.Do(func() { close(w.idle) })
	}
}
