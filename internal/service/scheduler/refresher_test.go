package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	pkgcache "CapitalDash/pkg/cache"
)

type fakeTarget struct {
	mu        sync.Mutex
	refreshed []string
	fail      map[string]bool
	panicOn   string
	block     chan struct{}
	started   chan struct{}
	waitCtx   bool
	cleared   int
	events    []models.Event
}

func (f *fakeTarget) RefreshHistory(ctx context.Context, symbol string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbol == f.panicOn {
		panic("boom")
	}
	if f.fail[symbol] {
		return domain.ErrUpstreamUnavailable
	}
	f.refreshed = append(f.refreshed, symbol)
	return nil
}

func (f *fakeTarget) ClearResponses(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeTarget) Publish(_ context.Context, ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeCatalog struct{ reloads int }

func (c *fakeCatalog) Reload(context.Context) error { c.reloads++; return nil }

func newRefresher(t *testing.T, target *fakeTarget, symbols []string, opts ...Option) (*Refresher, *fakeCatalog) {
	t.Helper()
	cat := &fakeCatalog{}
	r, err := New(Config{
		Specs:   []string{"0 15 16 * * 1-5", "0 15 18 * * 1-5"},
		Symbols: symbols,
	}, target, cat, nil, opts...)
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	return r, cat
}

func TestRunNow_IsolatesSymbolFailures(t *testing.T) {
	target := &fakeTarget{fail: map[string]bool{"BAD": true}}
	r, cat := newRefresher(t, target, []string{"SPY", "BAD", "QQQ"})

	rep, err := r.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Refreshed != 2 || !slices.Equal(rep.Failed, []string{"BAD"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	if !slices.Equal(target.refreshed, []string{"SPY", "QQQ"}) {
		t.Fatalf("batch should continue past a failure, got %v", target.refreshed)
	}
	if target.cleared != 1 || cat.reloads != 1 {
		t.Fatalf("expected one response clear and one catalog reload, got %d %d", target.cleared, cat.reloads)
	}
	if len(target.events) != 1 || target.events[0].Type != models.EventRefreshCompleted || target.events[0].Symbols != 2 {
		t.Fatalf("unexpected events %+v", target.events)
	}
	if !r.Ready() || r.State() != Idle {
		t.Fatalf("expected ready and idle, got %v %s", r.Ready(), r.State())
	}
}

func TestRunNow_RejectsConcurrentRun(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{}), started: make(chan struct{}, 1)}
	r, _ := newRefresher(t, target, []string{"SPY"})

	done := make(chan error, 1)
	go func() {
		_, err := r.RunNow(context.Background())
		done <- err
	}()
	<-target.started
	if r.State() != Running {
		t.Fatalf("expected running state, got %s", r.State())
	}
	if _, err := r.RunNow(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(target.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestRunNow_PanicIsFatalAndRearms(t *testing.T) {
	target := &fakeTarget{panicOn: "SPY"}
	r, _ := newRefresher(t, target, []string{"SPY"})

	_, err := r.RunNow(context.Background())
	if !errors.Is(err, domain.ErrSchedulerFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if r.State() != Idle {
		t.Fatalf("state should return to idle, got %s", r.State())
	}
	if r.Ready() {
		t.Fatalf("a fatal run must not mark the service ready")
	}
	if n := len(r.cron.Entries()); n != 2 {
		t.Fatalf("cron entries should stay armed, got %d", n)
	}

	target.panicOn = ""
	if _, err := r.RunNow(context.Background()); err != nil {
		t.Fatalf("next run should succeed, got %v", err)
	}
}

func TestRunNow_StopsBetweenSymbolsOnCancel(t *testing.T) {
	target := &fakeTarget{}
	r, _ := newRefresher(t, target, []string{"SPY", "QQQ"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.RunNow(ctx)
	if !errors.Is(err, context.Canceled) || !rep.Cancelled {
		t.Fatalf("expected cancellation, got %v %+v", err, rep)
	}
	if len(target.refreshed) != 0 {
		t.Fatalf("no symbol should run after cancellation, got %v", target.refreshed)
	}
}

func TestStop_CancelsAndWaitsForStartupRun(t *testing.T) {
	target := &fakeTarget{waitCtx: true, started: make(chan struct{}, 1)}
	cat := &fakeCatalog{}
	r, err := New(Config{
		Specs:      []string{"0 15 16 * * 1-5"},
		Symbols:    []string{"AAA", "BBB"},
		RunOnStart: true,
	}, target, cat, nil)
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	r.Start()
	<-target.started

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop should wait for the startup run, got %v", err)
	}
	if r.State() != Idle {
		t.Fatalf("run still in flight after stop, state %s", r.State())
	}
	rep := r.LastRun()
	if !rep.Cancelled || !slices.Equal(rep.Failed, []string{"AAA"}) {
		t.Fatalf("expected a run cancelled after AAA, got %+v", rep)
	}
	if len(target.refreshed) != 0 {
		t.Fatalf("BBB should not start after stop, got %v", target.refreshed)
	}
	if r.Ready() {
		t.Fatalf("a cancelled run must not mark the service ready")
	}
}

func TestRunNow_HeldLockSkips(t *testing.T) {
	locks := pkgcache.NewMemoryCache()
	if ok, _ := locks.TryLock(context.Background(), lockKey, time.Minute); !ok {
		t.Fatal("could not take lock")
	}
	target := &fakeTarget{}
	r, _ := newRefresher(t, target, []string{"SPY"}, WithLocker(locks))

	if _, err := r.RunNow(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while another instance holds the lock, got %v", err)
	}
	_ = locks.Unlock(context.Background(), lockKey)
	if _, err := r.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := locks.TryLock(context.Background(), lockKey, time.Minute); !ok {
		t.Fatalf("lock should be released after the run")
	}
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(Config{Specs: []string{"not a cron"}}, &fakeTarget{}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an unparseable spec")
	}
}
