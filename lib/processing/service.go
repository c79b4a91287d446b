// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package processing runs the local execution pipeline: a pool of
// workers pulls leased jobs from a prefetching source, advances each
// through its lifecycle transition, and reports state changes through
// the bulk status updater.
package processing

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/lib/apps"
	"github.com/keceli/balsam/lib/jobsource"
	"github.com/keceli/balsam/lib/statusupdater"
	"github.com/keceli/balsam/sdk/go/balsam"
)

// API is the full coordination-service surface the processing
// pipeline consumes. *balsam.Client implements it.
type API interface {
	jobsource.SessionAPI
	statusupdater.API
	ListApps(ctx context.Context, siteID int64) ([]balsam.App, error)
}

// Config tunes one processing service instance.
type Config struct {
	SiteID      int64
	SchedulerID int64

	// Target depth of the standing job queue.
	PrefetchDepth int

	// Worker pool size. Defaults to 5.
	NumWorkers int

	FilterTags     map[string]string
	MaxWallTimeMin int

	// Site data directory; job workdirs are relative to it.
	DataPath string

	// Site apps directory, used to resolve application classes.
	AppsPath string

	// Status batching policy.
	StatusUpdater statusupdater.Config
}

// A Service owns one prefetching job source restricted to the four
// triggering states, one bulk status updater, an app cache resolved
// once at startup, and a pool of workers sharing the two queues.
type Service struct {
	logger  logrus.FieldLogger
	cfg     Config
	source  *jobsource.PrefetchingSource
	updater *statusupdater.BulkUpdater
	workers []*worker

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	workersWG sync.WaitGroup

	mJobsProcessed prometheus.Counter
	mJobsFailed    prometheus.Counter
}

// New builds an unstarted Service. It resolves every application
// registered at the site up front; a class path with no loadable
// application definition is a startup error, not a per-job surprise.
func New(ctx context.Context, api API, logger logrus.FieldLogger, reg *prometheus.Registry, cfg Config) (*Service, error) {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 5
	}
	siteApps, err := api.ListApps(ctx, cfg.SiteID)
	if err != nil {
		return nil, fmt.Errorf("error listing apps for site %d: %w", cfg.SiteID, err)
	}
	appCache := make(map[int64]apps.Factory, len(siteApps))
	for _, app := range siteApps {
		factory, err := apps.LoadAppClass(cfg.AppsPath, app.ClassPath)
		if err != nil {
			return nil, fmt.Errorf("error loading app %d: %w", app.ID, err)
		}
		appCache[app.ID] = factory
	}

	source := jobsource.NewPrefetching(api, logger.WithField("Component", "JobSource"), reg, jobsource.PrefetchConfig{
		SiteID:         cfg.SiteID,
		SchedulerID:    cfg.SchedulerID,
		PrefetchDepth:  cfg.PrefetchDepth,
		FilterTags:     cfg.FilterTags,
		States:         balsam.ProcessableStates,
		MaxWallTimeMin: cfg.MaxWallTimeMin,
	})
	updater := statusupdater.New(api, logger.WithField("Component", "StatusUpdater"), reg, cfg.StatusUpdater)

	svc := &Service{
		logger:  logger,
		cfg:     cfg,
		source:  source,
		updater: updater,
		stop:    make(chan struct{}),
	}
	svc.registerMetrics(reg)
	for i := 0; i < cfg.NumWorkers; i++ {
		svc.workers = append(svc.workers, &worker{
			logger:     logger.WithField("Worker", i),
			jobs:       source.Queue(),
			statuses:   updater.Queue(),
			appCache:   appCache,
			dataPath:   cfg.DataPath,
			mProcessed: svc.mJobsProcessed,
			mFailed:    svc.mJobsFailed,
		})
	}
	logger.Infof("initialized processing service: site %d, %d workers, %d apps, prefetch depth %d", cfg.SiteID, cfg.NumWorkers, len(appCache), cfg.PrefetchDepth)
	return svc, nil
}

func (svc *Service) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	svc.mJobsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "balsam",
		Subsystem: "processing",
		Name:      "jobs_processed_total",
		Help:      "Number of jobs whose lifecycle transition ran to completion.",
	})
	reg.MustRegister(svc.mJobsProcessed)
	svc.mJobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "balsam",
		Subsystem: "processing",
		Name:      "jobs_failed_total",
		Help:      "Number of jobs marked FAILED by the processing pipeline.",
	})
	reg.MustRegister(svc.mJobsFailed)
}

// Start launches the status updater, the job source, and the workers,
// in that order, so every consumer is running before its producer
// begins. Start is idempotent.
func (svc *Service) Start() {
	svc.startOnce.Do(func() {
		svc.updater.Start()
		svc.source.Start()
		for _, w := range svc.workers {
			w := w
			svc.workersWG.Add(1)
			go func() {
				defer svc.workersWG.Done()
				w.run(svc.stop)
			}()
		}
		svc.logger.Info("processing service started")
	})
}

// Terminate signals the job source and all workers to stop. In-flight
// transitions finish; nothing is killed mid-operation. Terminate is
// idempotent and does not wait; call Join.
func (svc *Service) Terminate() {
	svc.stopOnce.Do(func() {
		svc.source.Terminate()
		close(svc.stop)
	})
}

// Join waits for every worker to exit before terminating the status
// updater, so no status record is produced after the updater's final
// drain, then waits on the job source and updater shutdown.
func (svc *Service) Join() {
	svc.workersWG.Wait()
	svc.updater.Terminate()
	svc.source.Join()
	svc.updater.Join()
	svc.logger.Info("processing service exited")
}
