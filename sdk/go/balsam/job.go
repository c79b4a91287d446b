// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package balsam

import "time"

// JobState is a lifecycle state of a Job.
type JobState string

const (
	JobStateCreated       JobState = "CREATED"
	JobStateAwaitingSend  JobState = "READY"
	JobStateStagedIn      JobState = "STAGED_IN"
	JobStatePreprocessed  JobState = "PREPROCESSED"
	JobStateRunning       JobState = "RUNNING"
	JobStateRunDone       JobState = "RUN_DONE"
	JobStateRunError      JobState = "RUN_ERROR"
	JobStateRunTimeout    JobState = "RUN_TIMEOUT"
	JobStateRestartReady  JobState = "RESTART_READY"
	JobStatePostprocessed JobState = "POSTPROCESSED"
	JobStateStagedOut     JobState = "STAGED_OUT"
	JobStateFinished      JobState = "JOB_FINISHED"
	JobStateFailed        JobState = "FAILED"
)

// RunnableStates are the states a launcher consumes: jobs in these
// states are ready to be placed on compute resources.
var RunnableStates = []JobState{JobStatePreprocessed, JobStateRestartReady}

// ProcessableStates are the states the processing pipeline consumes:
// each selects a lifecycle transition (preprocess, postprocess, error
// or timeout handling).
var ProcessableStates = []JobState{JobStateStagedIn, JobStateRunDone, JobStateRunError, JobStateRunTimeout}

// Job is a unit of work progressing through the lifecycle state
// machine. The coordination service owns the authoritative record; a
// leased daemon holds a local, possibly stale copy and writes changes
// back only through bulk status updates.
type Job struct {
	ID             int64             `json:"id"`
	AppID          int64             `json:"app_id"`
	Workdir        string            `json:"workdir"`
	State          JobState          `json:"state"`
	StateData      map[string]string `json:"state_data,omitempty"`
	StateTimestamp time.Time         `json:"state_timestamp"`
	Tags           map[string]string `json:"tags,omitempty"`
	NumNodes       int               `json:"num_nodes"`
	RanksPerNode   int               `json:"ranks_per_node,omitempty"`
	ThreadsPerRank int               `json:"threads_per_rank,omitempty"`
	WallTimeMin    int               `json:"wall_time_min,omitempty"`
}

// JobList is a page of Jobs returned by a list or acquire call.
type JobList struct {
	Items          []Job `json:"items"`
	ItemsAvailable int   `json:"items_available,omitempty"`
}

// StatusRecord reports one job's state transition. It is produced by a
// processing worker, is immutable once produced, and is consumed
// exactly once by the bulk status updater.
type StatusRecord struct {
	JobID          int64             `json:"id"`
	State          JobState          `json:"state"`
	StateTimestamp time.Time         `json:"state_timestamp"`
	StateData      map[string]string `json:"state_data,omitempty"`
}
