// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package jobsource supplies jobs to local consumers through a
// server-side session lease. Two interchangeable source strategies
// are provided: a prefetching source that keeps a standing local
// queue filled in the background, and a synchronous source that
// performs one blocking acquisition call per request.
package jobsource

import (
	"context"

	"github.com/keceli/balsam/sdk/go/balsam"
)

// SessionAPI is the subset of the coordination-service client used by
// leases and job sources.
type SessionAPI interface {
	CreateSession(ctx context.Context, session balsam.Session) (balsam.Session, error)
	AcquireJobs(ctx context.Context, sessionID int64, req balsam.AcquisitionRequest) ([]balsam.Job, error)
	HeartbeatSession(ctx context.Context, sessionID int64) error
	DeleteSession(ctx context.Context, sessionID int64) error
	LookupBatchJob(ctx context.Context, siteID, schedulerID int64) (balsam.BatchJob, error)
}
