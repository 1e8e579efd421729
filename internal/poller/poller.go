// Package poller drives the periodic store backfill. Ticks fire at a fixed
// interval; a tick that lands while the previous run is still going is
// skipped rather than queued, so a slow upstream never stacks runs.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultInterval = 5 * time.Minute

// RunFunc is one backfill pass.
type RunFunc func(ctx context.Context) error

type Options struct {
	Interval time.Duration
	Logger   *zap.Logger
}

type Poller struct {
	run      RunFunc
	interval time.Duration
	logger   *zap.Logger

	inFlight atomic.Bool
	group    singleflight.Group

	runs    atomic.Uint64
	skips   atomic.Uint64
	lastErr atomic.Pointer[error]
}

func New(run RunFunc, opts Options) (*Poller, error) {
	if run == nil {
		return nil, errors.New("poller: run func is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Poller{
		run:      run,
		interval: opts.Interval,
		logger:   opts.Logger,
	}, nil
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped",
				zap.Uint64("runs", p.runs.Load()),
				zap.Uint64("skips", p.skips.Load()))
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skips.Add(1)
		p.logger.Warn("poll tick skipped, previous run still in flight")
		return
	}
	defer p.inFlight.Store(false)
	p.execute(ctx)
}

// Trigger runs a pass on demand. Concurrent triggers share one run.
func (p *Poller) Trigger(ctx context.Context) error {
	_, err, _ := p.group.Do("run", func() (any, error) {
		if !p.inFlight.CompareAndSwap(false, true) {
			return nil, errors.New("poller: a run is already in flight")
		}
		defer p.inFlight.Store(false)
		return nil, p.execute(ctx)
	})
	return err
}

func (p *Poller) execute(ctx context.Context) error {
	start := time.Now()
	err := p.run(ctx)
	p.runs.Add(1)
	p.lastErr.Store(&err)
	if err != nil {
		p.logger.Error("poll run failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	p.logger.Info("poll run finished", zap.Duration("duration", time.Since(start)))
	return nil
}

// LastError reports the outcome of the most recent run, nil when no run has
// finished yet or the last one succeeded.
func (p *Poller) LastError() error {
	errp := p.lastErr.Load()
	if errp == nil {
		return nil
	}
	return *errp
}

// Runs reports how many passes have completed.
func (p *Poller) Runs() uint64 { return p.runs.Load() }

// Skips reports how many ticks were suppressed by an in-flight run.
func (p *Poller) Skips() uint64 { return p.skips.Load() }
