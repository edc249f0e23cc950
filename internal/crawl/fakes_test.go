package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

var errPageMissing = errors.New("page missing")

type fakeMechanism struct {
	kind    MechanismKind
	pages   map[string]string
	openErr error

	mu       sync.Mutex
	opened   int
	closed   int
	requests []PageRequest
	panicOn  string
}

func (m *fakeMechanism) Kind() MechanismKind { return m.kind }

func (m *fakeMechanism) Open(_ context.Context, _ Acquisition) (Session, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &fakeSession{mech: m}, nil
}

func (m *fakeMechanism) urls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r.URL)
	}
	return out
}

type fakeSession struct {
	mech *fakeMechanism
}

func (s *fakeSession) Load(_ context.Context, req PageRequest) (*goquery.Document, error) {
	s.mech.mu.Lock()
	s.mech.requests = append(s.mech.requests, req)
	s.mech.mu.Unlock()
	if s.mech.panicOn != "" && req.URL == s.mech.panicOn {
		panic("renderer crashed")
	}
	body, ok := s.mech.pages[req.URL]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.URL, errPageMissing)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return doc, nil
}

func (s *fakeSession) Close() error {
	s.mech.mu.Lock()
	defer s.mech.mu.Unlock()
	s.mech.closed++
	return nil
}

type recordingPacer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPacer) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type memStore struct {
	mu    sync.Mutex
	saved []ranking.Snapshot
	err   error
}

func (s *memStore) Save(_ context.Context, snap ranking.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memStore) Latest(_ context.Context) (ranking.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return ranking.Snapshot{}, ranking.ErrNotFound
	}
	return s.saved[len(s.saved)-1], nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() (string, error) { return g.id, nil }

const (
	testRankingURL = "https://rank.test/rank/recom/"
	testBookURL    = "https://book.test/info/%s/"
)

func testAcquisition(kind MechanismKind) Acquisition {
	return Acquisition{
		Mechanism:       kind,
		RankingURL:      testRankingURL,
		BookURLTemplate: testBookURL,
		Pacing:          1500 * time.Millisecond,
		MaxItems:        20,
	}
}

func rankingPage(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="rank-view-list"><ul>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<li><div class="book-mid-info"><h2><a href="//book.test/book/%s/">Book %s</a></h2></div></li>`, id, id)
	}
	b.WriteString(`</ul></div></body></html>`)
	return b.String()
}

func detailPage(title, author string, weekly int) string {
	return fmt.Sprintf(`<html><body><div class="book-info">
<h1><em>%s</em></h1>
<a class="writer">%s</a>
<p><em>%d</em><cite>周推荐</cite></p>
</div></body></html>`, title, author, weekly)
}

func bookURL(id string) string {
	return fmt.Sprintf(testBookURL, id)
}
