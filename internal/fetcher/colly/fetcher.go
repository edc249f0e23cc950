// Package collyfetcher implements the static acquisition mechanism using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// Timeout applies when the acquisition profile leaves PageTimeout unset.
	Timeout time.Duration
}

// Mechanism is the static HTTP mechanism: one GET per page, no script execution.
type Mechanism struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Mechanism.
func New(cfg Config) *Mechanism {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	baseTransport := newHTTPTransport()
	c.WithTransport(newRetryTransport(baseTransport))

	return &Mechanism{
		cfg:           cfg,
		transport:     baseTransport,
		baseCollector: c,
	}
}

// Kind implements crawl.Mechanism.
func (m *Mechanism) Kind() crawl.MechanismKind {
	return crawl.MechanismStatic
}

// Open implements crawl.Mechanism. The static mechanism is always available.
func (m *Mechanism) Open(ctx context.Context, acq crawl.Acquisition) (crawl.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open static session: %w", err)
	}
	return &session{mech: m, acq: acq}, nil
}

type session struct {
	mech *Mechanism
	acq  crawl.Acquisition
}

// Load fetches req.URL with the session headers. The wait selector is
// meaningless without script execution and is ignored.
func (s *session) Load(ctx context.Context, req crawl.PageRequest) (*goquery.Document, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := s.mech.buildCollector(s.acq, &body, &fetchErr)
	if err := runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.URL, err)
	}
	return doc, nil
}

// Close releases idle connections held by the shared transport.
func (s *session) Close() error {
	s.mech.transport.CloseIdleConnections()
	return nil
}

func (m *Mechanism) buildCollector(acq crawl.Acquisition, body *[]byte, fetchErr *error) *colly.Collector {
	collector := m.baseCollector.Clone()
	if ua := acq.UserAgent(); ua != "" {
		collector.UserAgent = ua
	}
	timeout := acq.PageTimeout
	if timeout == 0 {
		timeout = m.cfg.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	configureCollectorHooks(collector, acq.Headers, body, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, headers http.Header, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})

	// Colly reports transport failures and non-2xx statuses here.
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
