// Package scheduler keeps the series cache and the history store warm by
// refreshing tracked symbols on cron triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	"CapitalDash/internal/service/session"
	xlogger "CapitalDash/pkg/logger"
)

// ErrAlreadyRunning is returned by RunNow while a run is active here or, with
// a distributed lock configured, on another instance.
var ErrAlreadyRunning = errors.New("refresh already running")

const lockKey = "capitaldash:refresh:lock"

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Target is the aggregation layer the refresher drives.
type Target interface {
	RefreshHistory(ctx context.Context, symbol string) error
	ClearResponses(ctx context.Context)
	Publish(ctx context.Context, ev models.Event)
}

type CatalogReloader interface {
	Reload(ctx context.Context) error
}

// Locker guards a run across instances sharing one Redis.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Config struct {
	Specs         []string
	Symbols       []string
	SymbolTimeout time.Duration
	LockTTL       time.Duration
	RunOnStart    bool
}

// RunReport summarizes one refresh run.
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Refreshed int
	Failed    []string
	Cancelled bool
}

type Refresher struct {
	cron    *cron.Cron
	target  Target
	catalog CatalogReloader
	locker  Locker
	metrics repository.Metrics
	logger  *xlogger.Logger
	cfg     Config
	now     func() time.Time

	state atomic.Int32
	ready atomic.Bool

	// runCtx scopes every background run; Stop cancels it.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	last RunReport
}

type Option func(*Refresher)

func WithLocker(l Locker) Option {
	return func(r *Refresher) { r.locker = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// New registers every cron spec in New York time. Specs carry a seconds field.
func New(cfg Config, target Target, catalog CatalogReloader, logger *xlogger.Logger, opts ...Option) (*Refresher, error) {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	r := &Refresher{
		target:  target,
		catalog: catalog,
		logger:  logger.With(xlogger.String("component", "refresher")),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.runCtx, r.cancel = context.WithCancel(context.Background())
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(session.Location()),
		cron.WithLogger(cronLogger{r.logger}),
	)
	for _, spec := range cfg.Specs {
		if _, err := r.cron.AddFunc(spec, r.scheduled); err != nil {
			return nil, fmt.Errorf("register refresh %q: %w", spec, err)
		}
	}
	return r, nil
}

// Start arms the cron triggers and, when configured, runs once in the
// background right away.
func (r *Refresher) Start() {
	r.cron.Start()
	r.logger.Info("refresher started",
		xlogger.Strings("specs", r.cfg.Specs),
		xlogger.Int("symbols", len(r.cfg.Symbols)))
	if r.cfg.RunOnStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.scheduled()
		}()
	}
}

// Stop disarms the triggers, cancels the active run between symbols and
// waits for it to return until ctx expires.
func (r *Refresher) Stop(ctx context.Context) error {
	r.cancel()
	cronDone := r.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) State() State { return State(r.state.Load()) }

// Ready reports whether at least one run has completed.
func (r *Refresher) Ready() bool { return r.ready.Load() }

func (r *Refresher) LastRun() RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Refresher) scheduled() {
	if r.runCtx.Err() != nil {
		return
	}
	_, err := r.RunNow(r.runCtx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		r.logger.Info("refresh skipped, a run is active")
	case errors.Is(err, context.Canceled):
		r.logger.Info("refresh interrupted by shutdown")
	case err != nil && !errors.Is(err, domain.ErrSchedulerFatal):
		r.logger.Warn("refresh ended early", xlogger.Error(err))
	}
}

// RunNow refreshes every tracked symbol once. It never runs concurrently
// with itself.
func (r *Refresher) RunNow(ctx context.Context) (RunReport, error) {
	if !r.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return RunReport{}, ErrAlreadyRunning
	}
	defer r.state.Store(int32(Idle))

	if r.locker != nil {
		ok, err := r.locker.TryLock(ctx, lockKey, r.cfg.LockTTL)
		switch {
		case err != nil:
			r.logger.Warn("refresh lock unavailable, running unguarded", xlogger.Error(err))
		case !ok:
			return RunReport{}, ErrAlreadyRunning
		default:
			defer func() {
				if err := r.locker.Unlock(context.Background(), lockKey); err != nil {
					r.logger.Warn("release refresh lock", xlogger.Error(err))
				}
			}()
		}
	}
	return r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) (rep RunReport, err error) {
	rep.StartedAt = r.now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", domain.ErrSchedulerFatal, p)
			r.logger.Error("refresh aborted",
				xlogger.Error(err),
				xlogger.String("stack", string(debug.Stack())))
		}
		rep.Duration = r.now().Sub(rep.StartedAt)
		r.finish(rep, err)
	}()

	r.logger.Info("refresh started", xlogger.Int("symbols", len(r.cfg.Symbols)))
	for _, sym := range r.cfg.Symbols {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		if err := r.refreshSymbol(ctx, sym); err != nil {
			r.logger.Warn("symbol refresh failed", xlogger.String("symbol", sym), xlogger.Error(err))
			rep.Failed = append(rep.Failed, sym)
			r.recordSymbol(sym, false)
			continue
		}
		rep.Refreshed++
		r.recordSymbol(sym, true)
	}

	r.target.ClearResponses(ctx)
	if r.catalog != nil {
		_ = r.catalog.Reload(ctx)
	}
	r.target.Publish(ctx, models.Event{
		Type:       models.EventRefreshCompleted,
		Symbols:    rep.Refreshed,
		Failed:     rep.Failed,
		DurationMS: r.now().Sub(rep.StartedAt).Milliseconds(),
	})
	if rep.Cancelled {
		return rep, ctx.Err()
	}
	return rep, nil
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SymbolTimeout)
	defer cancel()
	return r.target.RefreshHistory(ctx, symbol)
}

func (r *Refresher) finish(rep RunReport, err error) {
	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()

	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrSchedulerFatal):
		outcome = "fatal"
	case err != nil:
		outcome = "cancelled"
	case len(rep.Failed) > 0:
		outcome = "partial"
	}
	if err == nil {
		r.ready.Store(true)
	}
	if r.metrics != nil {
		r.metrics.RecordRefresh(outcome, rep.Duration.Seconds())
	}
	r.logger.Info("refresh finished",
		xlogger.String("outcome", outcome),
		xlogger.Int("refreshed", rep.Refreshed),
		xlogger.Strings("failed", rep.Failed),
		xlogger.Duration("duration", rep.Duration))
}

func (r *Refresher) recordSymbol(symbol string, ok bool) {
	if r.metrics != nil {
		r.metrics.RecordRefreshSymbol(symbol, ok)
	}
}

// cronLogger routes robfig/cron diagnostics to the service logger.
type cronLogger struct{ l *xlogger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, xlogger.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, xlogger.Error(err), xlogger.Any("details", keysAndValues))
}
