package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
	memorypub "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/publisher/memory"
	memorystore "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/storage/memory"
)

type stubRunner struct {
	result crawl.Result
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (r *stubRunner) Run(ctx context.Context) (crawl.Result, error) {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	return r.result, r.err
}

type stubMechanism struct{ kind crawl.MechanismKind }

func (m stubMechanism) Kind() crawl.MechanismKind { return m.kind }

func (m stubMechanism) Open(context.Context, crawl.Acquisition) (crawl.Session, error) {
	return nil, errors.New("not used")
}

type failingStore struct{ err error }

func (s failingStore) Save(context.Context, ranking.Snapshot) error { return s.err }

func (s failingStore) Latest(context.Context) (ranking.Snapshot, error) {
	return ranking.Snapshot{}, s.err
}

func books(n int) []ranking.Book {
	out := make([]ranking.Book, n)
	for i := range out {
		out[i] = ranking.DefaultBook(string(rune('1' + i)))
	}
	return out
}

func succeeded(mech crawl.MechanismKind, n int) crawl.Result {
	return crawl.Result{
		RunID:      "run-" + string(mech),
		Mechanism:  mech,
		Books:      books(n),
		FinishedAt: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
}

func registry(kinds ...crawl.MechanismKind) *crawl.Registry {
	reg := crawl.NewRegistry()
	for _, k := range kinds {
		reg.Register(stubMechanism{kind: k}, crawl.Acquisition{})
	}
	return reg
}

func chainKinds(candidates []crawl.Candidate) []crawl.MechanismKind {
	out := make([]crawl.MechanismKind, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Kind())
	}
	return out
}

func TestBuildPlansProduction(t *testing.T) {
	t.Parallel()

	var chains [][]crawl.MechanismKind
	plans := BuildPlans(crawl.ModeProduction,
		registry(crawl.MechanismStatic, crawl.MechanismBrowser, crawl.MechanismConstrained),
		func(c []crawl.Candidate) Runner {
			chains = append(chains, chainKinds(c))
			return &stubRunner{}
		})

	require.Len(t, plans, 2)
	assert.Equal(t, "constrained", plans[0].Name)
	assert.Equal(t, "static", plans[1].Name)
	assert.Equal(t, [][]crawl.MechanismKind{
		{crawl.MechanismConstrained, crawl.MechanismBrowser},
		{crawl.MechanismStatic},
	}, chains)
}

func TestBuildPlansDevelopment(t *testing.T) {
	t.Parallel()

	var chains [][]crawl.MechanismKind
	plans := BuildPlans(crawl.ModeDevelopment,
		registry(crawl.MechanismStatic, crawl.MechanismBrowser, crawl.MechanismConstrained),
		func(c []crawl.Candidate) Runner {
			chains = append(chains, chainKinds(c))
			return &stubRunner{}
		})

	require.Len(t, plans, 1)
	assert.Equal(t, "static", plans[0].Name)
	assert.Equal(t, [][]crawl.MechanismKind{{crawl.MechanismStatic, crawl.MechanismBrowser}}, chains)
}

func TestBuildPlansSkipsUnregistered(t *testing.T) {
	t.Parallel()

	plans := BuildPlans(crawl.ModeProduction, registry(crawl.MechanismStatic),
		func([]crawl.Candidate) Runner { return &stubRunner{} })
	require.Len(t, plans, 1)
	assert.Equal(t, "static", plans[0].Name)
}

func TestRefreshFallsBackToNextPlan(t *testing.T) {
	t.Parallel()

	first := &stubRunner{err: crawl.ErrAllMechanismsFailed}
	second := &stubRunner{result: succeeded(crawl.MechanismStatic, 3)}
	pub := memorypub.New()
	svc := New([]Plan{{Name: "constrained", Runner: first}, {Name: "static", Runner: second}},
		memorystore.New(0), pub, zap.NewNop())

	out, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", out.Mechanism)
	assert.Len(t, out.Books, 3)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	note, ok := msgs[0].(Notification)
	require.True(t, ok)
	assert.Equal(t, "run-static", note.RunID)
	assert.Equal(t, 3, note.Count)
}

func TestRefreshEmptyPlanFallsThrough(t *testing.T) {
	t.Parallel()

	first := &stubRunner{result: crawl.Result{RunID: "empty"}}
	second := &stubRunner{result: succeeded(crawl.MechanismStatic, 2)}
	svc := New([]Plan{{Name: "a", Runner: first}, {Name: "b", Runner: second}}, nil, nil, nil)

	out, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.Books, 2)
}

func TestRefreshAllEmptyIsNotAnError(t *testing.T) {
	t.Parallel()

	pub := memorypub.New()
	svc := New([]Plan{
		{Name: "a", Runner: &stubRunner{err: errors.New("boom")}},
		{Name: "b", Runner: &stubRunner{}},
	}, nil, pub, nil)

	out, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, out.Books)
	assert.Empty(t, out.Books)
	assert.Empty(t, pub.Messages())
}

func TestRefreshAllFailedJoinsErrors(t *testing.T) {
	t.Parallel()

	errA := errors.New("chrome missing")
	svc := New([]Plan{
		{Name: "a", Runner: &stubRunner{err: errA}},
		{Name: "b", Runner: &stubRunner{err: crawl.ErrAllMechanismsFailed}},
	}, nil, nil, nil)

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, crawl.ErrAllMechanismsFailed)
	assert.Contains(t, err.Error(), "plan a")
}

func TestRefreshWithoutPlans(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoPlans)
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: succeeded(crawl.MechanismStatic, 1), gate: make(chan struct{})}
	svc := New([]Plan{{Name: "static", Runner: runner}}, nil, nil, nil)

	var wg sync.WaitGroup
	results := make(chan Outcome, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Refresh(context.Background())
			assert.NoError(t, err)
			results <- out
		}()
	}
	// Give every caller time to join before the run completes.
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(runner.gate)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), runner.calls.Load())
	for out := range results {
		assert.Equal(t, "run-static", out.RunID)
	}
}

func TestRefreshCallerCancelDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: succeeded(crawl.MechanismStatic, 1), gate: make(chan struct{})}
	pub := memorypub.New()
	svc := New([]Plan{{Name: "static", Runner: runner}}, nil, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(runner.gate)
	assert.Eventually(t, func() bool { return len(pub.Messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLatestReadsStore(t *testing.T) {
	t.Parallel()

	store := memorystore.New(0)
	require.NoError(t, store.Save(context.Background(), ranking.Snapshot{Books: books(2)}))
	runner := &stubRunner{result: succeeded(crawl.MechanismStatic, 5)}
	svc := New([]Plan{{Name: "static", Runner: runner}}, store, nil, nil)

	got, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, runner.calls.Load())
}

func TestLatestRunsCrawlWhenNothingPersisted(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: succeeded(crawl.MechanismStatic, 4)}
	svc := New([]Plan{{Name: "static", Runner: runner}}, memorystore.New(0), nil, nil)

	got, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestLatestRunsCrawlWhenStoreUnreadable(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: succeeded(crawl.MechanismStatic, 1)}
	svc := New([]Plan{{Name: "static", Runner: runner}}, failingStore{err: errors.New("corrupt")}, nil, nil)

	got, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLatestPropagatesTotalFailure(t *testing.T) {
	t.Parallel()

	svc := New([]Plan{{Name: "static", Runner: &stubRunner{err: crawl.ErrAllMechanismsFailed}}},
		memorystore.New(0), nil, nil)

	_, err := svc.Latest(context.Background())
	assert.ErrorIs(t, err, crawl.ErrAllMechanismsFailed)
}
