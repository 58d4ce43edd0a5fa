package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type DispatchRunnerOptions struct {
	Dispatcher    PendingDispatcher
	Pruner        RetentionPruner
	BatchSize     int
	Interval      time.Duration
	PurgeInterval time.Duration
	PurgeLimit    int
	Logger        Logger
	Metrics       MetricsRecorder
	Now           func() time.Time
}

// DispatchRunner hosts the dispatcher on a fixed interval and enforces the
// retention horizon on a slower one. Running more than one is safe because
// every claim is a conditional write, but one per process is the intended
// shape.
type DispatchRunner struct {
	dispatcher    PendingDispatcher
	pruner        RetentionPruner
	batchSize     int
	interval      time.Duration
	purgeInterval time.Duration
	purgeLimit    int
	logger        Logger
	metrics       MetricsRecorder
	now           func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewDispatchRunner(options DispatchRunnerOptions) (*DispatchRunner, error) {
	if options.Dispatcher == nil {
		return nil, fmt.Errorf("core: dispatcher is required")
	}
	defaults := DefaultConfig()
	interval := options.Interval
	if interval <= 0 {
		interval = defaults.Dispatch.Interval()
	}
	purgeInterval := options.PurgeInterval
	if purgeInterval <= 0 {
		purgeInterval = defaults.Retention.PurgeInterval()
	}
	purgeLimit := options.PurgeLimit
	if purgeLimit <= 0 {
		purgeLimit = defaults.Retention.PurgeLimit
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &DispatchRunner{
		dispatcher:    options.Dispatcher,
		pruner:        options.Pruner,
		batchSize:     options.BatchSize,
		interval:      interval,
		purgeInterval: purgeInterval,
		purgeLimit:    purgeLimit,
		logger:        glog.Ensure(options.Logger),
		metrics:       metrics,
		now:           now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start launches the runner loop. Subsequent calls are no-ops.
func (r *DispatchRunner) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Stop signals the loop and waits for the in-progress cycle to finish.
func (r *DispatchRunner) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *DispatchRunner) run(ctx context.Context) {
	defer close(r.doneCh)

	dispatchTicker := time.NewTicker(r.interval)
	defer dispatchTicker.Stop()
	purgeTicker := time.NewTicker(r.purgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-dispatchTicker.C:
			r.runDispatch(ctx)
		case <-purgeTicker.C:
			r.runPurge(ctx)
		}
	}
}

// RunOnce executes a single dispatch cycle immediately, outside the ticker.
func (r *DispatchRunner) RunOnce(ctx context.Context) (DispatchStats, error) {
	if r == nil || r.dispatcher == nil {
		return DispatchStats{}, fmt.Errorf("core: dispatch runner is not configured")
	}
	return r.dispatcher.DispatchPending(ctx, r.batchSize)
}

func (r *DispatchRunner) runDispatch(ctx context.Context) {
	stats, err := r.dispatcher.DispatchPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("dispatch cycle finished with errors",
			"error", err.Error(),
			"claimed", stats.Claimed,
			"delivered", stats.Delivered,
			"retried", stats.Retried,
			"failed", stats.Failed,
			"reclaimed", stats.Reclaimed,
		)
		return
	}
	if stats.Claimed == 0 && stats.Reclaimed == 0 {
		return
	}
	r.logger.Info("dispatch cycle finished",
		"claimed", stats.Claimed,
		"delivered", stats.Delivered,
		"retried", stats.Retried,
		"failed", stats.Failed,
		"reclaimed", stats.Reclaimed,
	)
}

func (r *DispatchRunner) runPurge(ctx context.Context) {
	if r.pruner == nil {
		return
	}
	purged, err := r.pruner.PurgeExpired(ctx, r.now(), r.purgeLimit)
	if err != nil {
		r.logger.Warn("retention purge failed", "error", err.Error())
		return
	}
	if purged > 0 {
		r.logger.Info("retention purge finished", "purged", purged)
	}
}

// PurgeExpired deletes events past their retention horizon. A zero before
// uses the engine clock.
func (e *Engine) PurgeExpired(ctx context.Context, before time.Time, limit int) (purged int, err error) {
	if e == nil {
		return 0, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{"limit": limit}
	defer func() {
		e.observeOperation(ctx, startedAt, "purge", err, fields)
	}()

	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return 0, err
	}
	if before.IsZero() {
		before = e.clock()
	}
	if limit <= 0 {
		limit = e.config.Retention.PurgeLimit
	}

	purged, err = e.store.PurgeExpired(ctx, before, limit)
	if err != nil {
		err = e.mapError(err)
		return 0, err
	}
	fields["purged"] = purged
	if purged > 0 {
		e.recordCounter(ctx, "relay.events.purged.total", int64(purged), nil)
	}
	return purged, nil
}

// NewRunner builds a DispatchRunner hosted on this engine: dispatch cycles
// and retention purges both flow through the engine so they carry its
// logging and metrics.
func (e *Engine) NewRunner() (*DispatchRunner, error) {
	if e == nil {
		return nil, fmt.Errorf("core: engine is nil")
	}
	return NewDispatchRunner(DispatchRunnerOptions{
		Dispatcher:    e,
		Pruner:        e,
		BatchSize:     e.config.Dispatch.BatchSize,
		Interval:      e.config.Dispatch.Interval(),
		PurgeInterval: e.config.Retention.PurgeInterval(),
		PurgeLimit:    e.config.Retention.PurgeLimit,
		Logger:        e.logger,
		Metrics:       e.metricsRecorder,
		Now:           e.now,
	})
}

var _ RetentionPruner = (*Engine)(nil)
