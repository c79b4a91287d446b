// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package statusupdater batches job status records and writes them
// back to the coordination service in bulk. Workers never write job
// state remotely themselves: every transition is reported through
// this channel.
package statusupdater

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/lib/queue"
	"github.com/keceli/balsam/sdk/go/balsam"
)

// API is the subset of the coordination-service client the updater
// uses.
type API interface {
	BulkUpdateJobs(ctx context.Context, records []balsam.StatusRecord) error
}

// Config tunes batching behavior.
type Config struct {
	// Maximum records per bulk update call. Defaults to 512.
	BatchSize int

	// How long to let a partial batch sit before flushing it.
	// Defaults to one second.
	FlushInterval time.Duration
}

// A BulkUpdater drains its input queue in the background,
// accumulating records until a batch fills or the flush interval
// passes, then performs one bulk update call. Records that fail to
// flush are kept and retried on the next flush, so a transient API
// failure delays reports rather than dropping them.
type BulkUpdater struct {
	api    API
	logger logrus.FieldLogger
	cfg    Config
	queue  *queue.Queue[balsam.StatusRecord]

	pending []balsam.StatusRecord

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	stopped   chan struct{}

	mUpdates prometheus.Counter
	mRetries prometheus.Counter
}

// New returns an unstarted BulkUpdater.
func New(api API, logger logrus.FieldLogger, reg *prometheus.Registry, cfg Config) *BulkUpdater {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 512
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	u := &BulkUpdater{
		api:     api,
		logger:  logger,
		cfg:     cfg,
		queue:   queue.New[balsam.StatusRecord](4 * cfg.BatchSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	u.registerMetrics(reg)
	return u
}

func (u *BulkUpdater) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	u.mUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "balsam",
		Subsystem: "statusupdater",
		Name:      "records_updated_total",
		Help:      "Number of status records successfully written back.",
	})
	reg.MustRegister(u.mUpdates)
	u.mRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "balsam",
		Subsystem: "statusupdater",
		Name:      "flush_errors_total",
		Help:      "Number of bulk update calls that failed and were retried.",
	})
	reg.MustRegister(u.mRetries)
}

// Queue exposes the input queue workers push status records onto.
func (u *BulkUpdater) Queue() *queue.Queue[balsam.StatusRecord] {
	return u.queue
}

// Start launches the background drain loop. Start is idempotent.
func (u *BulkUpdater) Start() {
	u.startOnce.Do(func() { go u.run() })
}

// Terminate signals the drain loop to stop after draining whatever is
// in the queue and flushing it. Call Join to wait, and only after all
// producers have stopped, so no record is pushed after the final
// drain.
func (u *BulkUpdater) Terminate() {
	u.stopOnce.Do(func() { close(u.stop) })
}

// Join blocks until the drain loop has exited.
func (u *BulkUpdater) Join() {
	<-u.stopped
}

func (u *BulkUpdater) run() {
	defer close(u.stopped)
	// Block on the queue in short slices so the stop signal is
	// noticed promptly even when no records arrive.
	pop := u.cfg.FlushInterval
	if pop > time.Second {
		pop = time.Second
	}
	lastFlush := time.Now()
	for {
		select {
		case <-u.stop:
			u.drain()
			u.flush()
			if n := len(u.pending); n > 0 {
				u.logger.Errorf("exiting with %d unreported status records", n)
			}
			return
		default:
		}
		rec, err := u.queue.Get(pop)
		if err == nil {
			u.pending = append(u.pending, rec)
		}
		if len(u.pending) >= u.cfg.BatchSize || time.Since(lastFlush) >= u.cfg.FlushInterval {
			u.flush()
			lastFlush = time.Now()
		}
	}
}

// drain empties the queue into pending without blocking.
func (u *BulkUpdater) drain() {
	for {
		rec, err := u.queue.TryGet()
		if err != nil {
			return
		}
		u.pending = append(u.pending, rec)
	}
}

func (u *BulkUpdater) flush() {
	for len(u.pending) > 0 {
		n := len(u.pending)
		if n > u.cfg.BatchSize {
			n = u.cfg.BatchSize
		}
		batch := u.pending[:n]
		if err := u.api.BulkUpdateJobs(context.Background(), batch); err != nil {
			u.logger.WithError(err).Errorf("error writing %d status records, will retry", n)
			u.mRetries.Inc()
			return
		}
		u.logger.Debugf("wrote %d status records", n)
		u.mUpdates.Add(float64(n))
		u.pending = u.pending[n:]
	}
	if len(u.pending) == 0 {
		u.pending = nil
	}
}
