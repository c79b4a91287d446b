// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/sdk/go/balsam"
)

// SynchronousConfig selects which jobs a SynchronousSource acquires.
type SynchronousConfig struct {
	SiteID      int64
	SchedulerID int64
	FilterTags  map[string]string

	// States to acquire. Defaults to balsam.RunnableStates.
	States []balsam.JobState

	SerialOnly     bool
	MaxWallTimeMin int
}

// A SynchronousSource performs exactly one blocking acquisition call
// per GetJobs invocation, with no local buffering. Each call costs a
// round trip, but daemons request just enough work for their free
// resources, so a fleet splits a small job pool evenly instead of one
// prefetching daemon hoarding it.
type SynchronousSource struct {
	lease     *Lease
	logger    logrus.FieldLogger
	cfg       SynchronousConfig
	startTime time.Time
}

// NewSynchronous opens a session lease and returns a ready source.
func NewSynchronous(ctx context.Context, api SessionAPI, logger logrus.FieldLogger, cfg SynchronousConfig) (*SynchronousSource, error) {
	if len(cfg.States) == 0 {
		cfg.States = balsam.RunnableStates
	}
	lease, err := OpenLease(ctx, api, logger, cfg.SiteID, cfg.SchedulerID)
	if err != nil {
		return nil, err
	}
	return &SynchronousSource{
		lease:     lease,
		logger:    logger,
		cfg:       cfg,
		startTime: timeNow(),
	}, nil
}

// Start is a no-op: there is no background task.
func (src *SynchronousSource) Start() {}

// Join is a no-op: there is no background task.
func (src *SynchronousSource) Join() {}

// Terminate cancels the heartbeat and releases the session lease.
func (src *SynchronousSource) Terminate() {
	if err := src.lease.Close(); err != nil {
		src.logger.WithError(err).Error("error closing session lease")
	}
}

// GetJobs issues one blocking acquisition call for up to maxNumJobs
// jobs fitting the given per-job and aggregate node ceilings (zero
// means unlimited).
func (src *SynchronousSource) GetJobs(ctx context.Context, maxNumJobs, maxNodesPerJob int, maxAggregateNodes float64) ([]balsam.Job, error) {
	return src.lease.Acquire(ctx, balsam.AcquisitionRequest{
		MaxNumJobs:        maxNumJobs,
		MaxNodesPerJob:    maxNodesPerJob,
		MaxAggregateNodes: maxAggregateNodes,
		MaxWallTimeMin:    remainingWallTimeMin(src.startTime, src.cfg.MaxWallTimeMin),
		SerialOnly:        src.cfg.SerialOnly,
		FilterTags:        src.cfg.FilterTags,
		States:            src.cfg.States,
	})
}
