// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/sdk/go/balsam"
)

// heartbeatPeriod is how often a lease pings the coordination service
// to stay alive. Tests shorten it.
var heartbeatPeriod = time.Minute

// A Lease owns one server-side session and keeps it alive with a
// recurring background heartbeat. The heartbeat runs on its own
// scheduler, so a slow acquisition call cannot delay it. A lease must
// be closed on shutdown; otherwise the server presumes it abandoned
// after its own lease timeout.
type Lease struct {
	api     SessionAPI
	logger  logrus.FieldLogger
	session balsam.Session
	cron    *cron.Cron

	closeOnce sync.Once
	closeErr  error
}

// OpenLease creates a server-side session scoped to siteID and starts
// its heartbeat. If schedulerID is nonzero but the batch allocation
// lookup fails, the session is created without allocation binding and
// a warning is logged: jobs will still be processed, just not
// associated with the batch allocation.
func OpenLease(ctx context.Context, api SessionAPI, logger logrus.FieldLogger, siteID, schedulerID int64) (*Lease, error) {
	var batchJobID int64
	if schedulerID != 0 {
		batchJob, err := api.LookupBatchJob(ctx, siteID, schedulerID)
		if err != nil {
			logger.WithError(err).Warnf("cannot look up batch job with scheduler id %d, creating session without batch job association", schedulerID)
		} else {
			batchJobID = batchJob.ID
		}
	}
	session, err := api.CreateSession(ctx, balsam.Session{SiteID: siteID, BatchJobID: batchJobID})
	if err != nil {
		return nil, fmt.Errorf("error opening session lease: %w", err)
	}
	lease := &Lease{
		api:     api,
		logger:  logger.WithField("SessionID", session.ID),
		session: session,
		cron:    cron.New(),
	}
	lease.cron.Schedule(cron.Every(heartbeatPeriod), cron.FuncJob(lease.heartbeat))
	lease.cron.Start()
	lease.logger.Infof("opened session lease for site %d", siteID)
	return lease, nil
}

// Session returns the server-side session record as created.
func (lease *Lease) Session() balsam.Session {
	return lease.session
}

// Acquire performs one batch acquisition call scoped to the lease. It
// returns an empty slice when nothing matches; it never blocks beyond
// the client's own request timeout and retry policy.
func (lease *Lease) Acquire(ctx context.Context, req balsam.AcquisitionRequest) ([]balsam.Job, error) {
	return lease.api.AcquireJobs(ctx, lease.session.ID, req)
}

// heartbeat failures are logged, not raised: a missed heartbeat is
// tolerated up to the server's own lease-timeout policy.
func (lease *Lease) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), heartbeatPeriod)
	defer cancel()
	if err := lease.api.HeartbeatSession(ctx, lease.session.ID); err != nil {
		lease.logger.WithError(err).Warn("session heartbeat failed")
		return
	}
	lease.logger.Debug("session heartbeat")
}

// Close stops the heartbeat and deletes the session server-side. The
// heartbeat scheduler is stopped synchronously: no heartbeat runs
// after Close returns. Closing an already-closed lease is a no-op
// returning the first close's error.
func (lease *Lease) Close() error {
	lease.closeOnce.Do(func() {
		<-lease.cron.Stop().Done()
		err := lease.api.DeleteSession(context.Background(), lease.session.ID)
		if err != nil {
			lease.closeErr = fmt.Errorf("error deleting session %d: %w", lease.session.ID, err)
			return
		}
		lease.logger.Info("closed session lease")
	})
	return lease.closeErr
}
