// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package balsam

import (
	"context"
	"fmt"
	"time"
)

// Session is a server-granted lease scoping which Jobs one daemon
// instance may acquire. A session that misses heartbeats long enough
// is presumed abandoned and reclaimed by the server.
type Session struct {
	ID         int64     `json:"id"`
	SiteID     int64     `json:"site_id"`
	BatchJobID int64     `json:"batch_job_id,omitempty"`
	Heartbeat  time.Time `json:"heartbeat,omitempty"`
}

// AcquisitionRequest is the selection predicate for one batch
// acquisition call. Callers construct a fresh request per call;
// MaxWallTimeMin is the remaining wall-time budget, recomputed from
// elapsed process time each time.
type AcquisitionRequest struct {
	MaxNumJobs        int               `json:"max_num_jobs"`
	MaxNodesPerJob    int               `json:"max_nodes_per_job,omitempty"`
	MaxAggregateNodes float64           `json:"max_aggregate_nodes,omitempty"`
	MaxWallTimeMin    int               `json:"max_wall_time_min,omitempty"`
	SerialOnly        bool              `json:"serial_only,omitempty"`
	FilterTags        map[string]string `json:"filter_tags,omitempty"`
	States            []JobState        `json:"states"`
}

// CreateSession creates a server-side session for the given site
// (and, if session.BatchJobID is nonzero, bound to that batch
// allocation) and returns the created record.
func (c *Client) CreateSession(ctx context.Context, session Session) (Session, error) {
	var created Session
	err := c.RequestAndDecode(ctx, &created, "POST", "sessions", nil, session)
	if err != nil {
		return Session{}, fmt.Errorf("error creating session for site %d: %w", session.SiteID, err)
	}
	return created, nil
}

// AcquireJobs performs one batch acquisition call scoped to the given
// session. It returns an empty slice when no job matches the request.
func (c *Client) AcquireJobs(ctx context.Context, sessionID int64, req AcquisitionRequest) ([]Job, error) {
	var list JobList
	err := c.RequestAndDecode(ctx, &list, "POST", fmt.Sprintf("sessions/%d", sessionID), nil, req)
	if err != nil {
		return nil, fmt.Errorf("error acquiring jobs on session %d: %w", sessionID, err)
	}
	return list.Items, nil
}

// HeartbeatSession extends the session's lease validity.
func (c *Client) HeartbeatSession(ctx context.Context, sessionID int64) error {
	return c.RequestAndDecode(ctx, nil, "PUT", fmt.Sprintf("sessions/%d", sessionID), nil, nil)
}

// DeleteSession releases the session server-side, returning any jobs
// still associated with it to the shared pool.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	return c.RequestAndDecode(ctx, nil, "DELETE", fmt.Sprintf("sessions/%d", sessionID), nil, nil)
}

// BulkUpdateJobs writes a batch of status records back to the
// coordination service in a single call.
func (c *Client) BulkUpdateJobs(ctx context.Context, records []StatusRecord) error {
	if len(records) == 0 {
		return nil
	}
	return c.RequestAndDecode(ctx, nil, "PATCH", "jobs", nil, records)
}
