// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/lib/queue"
	"github.com/keceli/balsam/sdk/go/balsam"
)

// timeNow is replaced in tests that exercise wall-time arithmetic.
var timeNow = time.Now

// PrefetchConfig selects which jobs a PrefetchingSource acquires and
// how deep a standing queue it maintains.
type PrefetchConfig struct {
	SiteID      int64
	SchedulerID int64

	// Target local queue depth. The fill loop requests
	// max(0, PrefetchDepth - queue length) jobs per cycle.
	PrefetchDepth int

	FilterTags map[string]string

	// States to acquire. Defaults to balsam.RunnableStates.
	States []balsam.JobState

	SerialOnly        bool
	MaxNodesPerJob    int
	MaxAggregateNodes float64

	// Wall-time ceiling for the whole run. When nonzero, every
	// acquisition request carries the remaining budget, computed
	// from elapsed time since the source was created.
	MaxWallTimeMin int

	// Fill loop period. Defaults to one second.
	PollPeriod time.Duration
}

// A PrefetchingSource decouples worker consumption rate from
// acquisition latency by keeping a local queue filled to a target
// depth from a background loop holding its own session lease.
//
// Prefer this source for high throughput, when the number of jobs far
// exceeds available compute resources. When the two are comparable, a
// deep prefetch makes one greedy daemon hoard jobs fleet-wide while
// others sit idle; use SynchronousSource (or a small depth) there.
type PrefetchingSource struct {
	api    SessionAPI
	logger logrus.FieldLogger
	cfg    PrefetchConfig
	queue  *queue.Queue[balsam.Job]

	startTime time.Time
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	stopped   chan struct{}

	mJobsAcquired prometheus.Counter
	mQueueDepth   prometheus.GaugeFunc
}

// NewPrefetching returns an unstarted PrefetchingSource. The session
// lease is not opened until Start.
func NewPrefetching(api SessionAPI, logger logrus.FieldLogger, reg *prometheus.Registry, cfg PrefetchConfig) *PrefetchingSource {
	if cfg.PrefetchDepth < 1 {
		cfg.PrefetchDepth = 1
	}
	if len(cfg.States) == 0 {
		cfg.States = balsam.RunnableStates
	}
	if cfg.PollPeriod == 0 {
		cfg.PollPeriod = time.Second
	}
	src := &PrefetchingSource{
		api:       api,
		logger:    logger,
		cfg:       cfg,
		queue:     queue.New[balsam.Job](cfg.PrefetchDepth),
		startTime: timeNow(),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	src.registerMetrics(reg)
	return src
}

func (src *PrefetchingSource) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	src.mJobsAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "balsam",
		Subsystem: "jobsource",
		Name:      "jobs_acquired_total",
		Help:      "Number of jobs acquired from the coordination service.",
	})
	reg.MustRegister(src.mJobsAcquired)
	src.mQueueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "balsam",
		Subsystem: "jobsource",
		Name:      "queue_depth",
		Help:      "Number of acquired jobs waiting in the local queue.",
	}, func() float64 { return float64(src.queue.Len()) })
	reg.MustRegister(src.mQueueDepth)
}

// Queue exposes the local job queue for consumers that pop directly
// (the processing workers share it).
func (src *PrefetchingSource) Queue() *queue.Queue[balsam.Job] {
	return src.queue
}

// Start launches the background fill loop. Start is idempotent.
func (src *PrefetchingSource) Start() {
	src.startOnce.Do(func() { go src.run() })
}

// Terminate signals the fill loop to stop. The loop closes its lease
// on the way out, even if a fetch was in progress when Terminate was
// called. Terminate is idempotent and does not wait; call Join.
func (src *PrefetchingSource) Terminate() {
	src.stopOnce.Do(func() { close(src.stop) })
}

// Join blocks until the fill loop has exited and the lease is
// released.
func (src *PrefetchingSource) Join() {
	<-src.stopped
}

// GetJobs drains up to max jobs from the local queue without
// blocking, returning fewer (possibly none) if the queue runs dry.
func (src *PrefetchingSource) GetJobs(max int) []balsam.Job {
	var jobs []balsam.Job
	for i := 0; i < max; i++ {
		job, err := src.queue.TryGet()
		if err != nil {
			break
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Get blocks up to timeout for a single job.
func (src *PrefetchingSource) Get(timeout time.Duration) (balsam.Job, error) {
	return src.queue.Get(timeout)
}

func (src *PrefetchingSource) run() {
	defer close(src.stopped)

	// Keep trying to open the lease until it works or we are told
	// to stop.
	var lease *Lease
	for {
		var err error
		lease, err = OpenLease(context.Background(), src.api, src.logger, src.cfg.SiteID, src.cfg.SchedulerID)
		if err == nil {
			break
		}
		src.logger.WithError(err).Error("error opening session lease, retrying")
		select {
		case <-src.stop:
			return
		case <-time.After(time.Second):
		}
	}
	defer func() {
		if err := lease.Close(); err != nil {
			src.logger.WithError(err).Error("error closing session lease")
		}
	}()

	poll := time.NewTicker(src.cfg.PollPeriod)
	defer poll.Stop()
	for {
		select {
		case <-src.stop:
			src.logger.Info("job source stopping")
			return
		case <-poll.C:
		}
		deficit := src.cfg.PrefetchDepth - src.queue.Len()
		if deficit <= 0 {
			continue
		}
		src.logger.Debugf("queue depth %d below target %d, fetching %d more", src.queue.Len(), src.cfg.PrefetchDepth, deficit)
		jobs, err := lease.Acquire(context.Background(), src.acquisitionRequest(deficit))
		if err != nil {
			src.logger.WithError(err).Error("error acquiring jobs")
			continue
		}
		if len(jobs) > 0 {
			src.logger.Infof("acquired %d jobs", len(jobs))
			src.mJobsAcquired.Add(float64(len(jobs)))
		}
		for _, job := range jobs {
			if err := src.queue.TryPut(job); err != nil {
				// The queue always has room for the
				// deficit, so this means the server
				// returned more than we asked for.
				src.logger.WithError(err).Errorf("dropping acquired job %d", job.ID)
			}
		}
	}
}

func (src *PrefetchingSource) acquisitionRequest(numJobs int) balsam.AcquisitionRequest {
	return balsam.AcquisitionRequest{
		MaxNumJobs:        numJobs,
		MaxNodesPerJob:    src.cfg.MaxNodesPerJob,
		MaxAggregateNodes: src.cfg.MaxAggregateNodes,
		MaxWallTimeMin:    remainingWallTimeMin(src.startTime, src.cfg.MaxWallTimeMin),
		SerialOnly:        src.cfg.SerialOnly,
		FilterTags:        src.cfg.FilterTags,
		States:            src.cfg.States,
	}
}

// remainingWallTimeMin returns the wall-time budget left out of
// maxWallTimeMin given elapsed time since start, or zero (no limit)
// if no ceiling is configured.
func remainingWallTimeMin(start time.Time, maxWallTimeMin int) int {
	if maxWallTimeMin <= 0 {
		return 0
	}
	elapsed := timeNow().Sub(start)
	return maxWallTimeMin - int(math.Round(elapsed.Minutes()))
}
