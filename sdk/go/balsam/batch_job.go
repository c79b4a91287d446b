// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package balsam

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// BatchJob describes one batch allocation granted by the HPC
// scheduler at a site. SchedulerID is the scheduler's own identifier
// for the allocation (e.g. a Slurm job id).
type BatchJob struct {
	ID          int64  `json:"id"`
	SiteID      int64  `json:"site_id"`
	SchedulerID int64  `json:"scheduler_id"`
	State       string `json:"state,omitempty"`
	NumNodes    int    `json:"num_nodes,omitempty"`
	WallTimeMin int    `json:"wall_time_min,omitempty"`
	Partition   string `json:"partition,omitempty"`
}

// BatchJobList is the response to a batch job list call.
type BatchJobList struct {
	Items []BatchJob `json:"items"`
}

// LookupBatchJob finds the batch allocation with the given scheduler
// id at the given site. It returns ErrNotFound if the coordination
// service has no matching record.
func (c *Client) LookupBatchJob(ctx context.Context, siteID, schedulerID int64) (BatchJob, error) {
	qry := url.Values{
		"site_id":      {strconv.FormatInt(siteID, 10)},
		"scheduler_id": {strconv.FormatInt(schedulerID, 10)},
	}
	var list BatchJobList
	err := c.RequestAndDecode(ctx, &list, "GET", "batch-jobs", qry, nil)
	if err != nil {
		return BatchJob{}, fmt.Errorf("error looking up batch job with scheduler id %d: %w", schedulerID, err)
	}
	if len(list.Items) == 0 {
		return BatchJob{}, ErrNotFound
	}
	return list.Items[0], nil
}
