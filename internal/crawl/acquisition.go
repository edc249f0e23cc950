package crawl

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxItems caps the ranking collection when a profile does not set one.
const DefaultMaxItems = 20

// Selectors waited for before extraction. Waiting is best effort.
const (
	RankingContainerSelector = ".rank-view-list, .book-list"
	DetailContainerSelector  = ".book-info, .book-information"
)

// MechanismKind names a page-acquisition mechanism.
type MechanismKind string

// Known acquisition mechanisms, cheapest first.
const (
	MechanismStatic      MechanismKind = "static"
	MechanismBrowser     MechanismKind = "browser"
	MechanismConstrained MechanismKind = "constrained"
)

// Acquisition is the per-run configuration shared by the list resolver and the
// detail fetcher. It is read-only for the duration of a run.
type Acquisition struct {
	Mechanism       MechanismKind
	Headers         http.Header
	HomeURL         string
	RankingURL      string
	BookURLTemplate string
	// Warmup visits HomeURL and waits WarmupDelay before the ranking page.
	Warmup          bool
	WarmupDelay     time.Duration
	Pacing          time.Duration
	PageTimeout     time.Duration
	WaitTimeout     time.Duration
	ListWaitTimeout time.Duration
	MaxItems        int
}

// BookURL renders the detail-page URL for id.
func (a Acquisition) BookURL(id string) string {
	if strings.Contains(a.BookURLTemplate, "%s") {
		return fmt.Sprintf(a.BookURLTemplate, id)
	}
	return strings.TrimRight(a.BookURLTemplate, "/") + "/" + id + "/"
}

// UserAgent returns the configured User-Agent header.
func (a Acquisition) UserAgent() string {
	return a.Headers.Get("User-Agent")
}

// Limit returns the maximum number of books for the run.
func (a Acquisition) Limit() int {
	if a.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return a.MaxItems
}

// PageRequest describes one page load.
type PageRequest struct {
	URL string
	// WaitSelector is awaited for at most WaitTimeout; expiry is not an error.
	WaitSelector string
	WaitTimeout  time.Duration
}

// Mechanism opens acquisition sessions. Open fails with an error wrapping
// ranking.ErrMechanismUnavailable when the mechanism cannot start.
type Mechanism interface {
	Kind() MechanismKind
	Open(ctx context.Context, acq Acquisition) (Session, error)
}

// Session loads pages for a single run. Close releases every resource the
// session holds and must be called on every exit path.
type Session interface {
	Load(ctx context.Context, req PageRequest) (*goquery.Document, error)
	Close() error
}

// Candidate pairs a mechanism with the acquisition profile it runs under.
type Candidate struct {
	Mechanism   Mechanism
	Acquisition Acquisition
}

// Kind returns the candidate's mechanism kind.
func (c Candidate) Kind() MechanismKind {
	if c.Mechanism == nil {
		return c.Acquisition.Mechanism
	}
	return c.Mechanism.Kind()
}
