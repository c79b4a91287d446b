// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package processing

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/lib/apps"
	"github.com/keceli/balsam/lib/queue"
	"github.com/keceli/balsam/sdk/go/balsam"
)

// logFilename is the per-job log file capturing transition output,
// appended to across transitions in the job's working directory.
const logFilename = "balsam.log"

// popTimeout bounds how long an idle worker blocks on the job queue,
// so a stop signal is noticed within this bound.
var popTimeout = time.Second

// A worker pops jobs from the shared source queue, runs each job's
// lifecycle transition, and pushes a status record. Workers are
// symmetric and stateless between jobs; the queues and the read-only
// app cache are the only structures they share.
type worker struct {
	logger   logrus.FieldLogger
	jobs     *queue.Queue[balsam.Job]
	statuses *queue.Queue[balsam.StatusRecord]
	appCache map[int64]apps.Factory
	dataPath string

	mProcessed prometheus.Counter
	mFailed    prometheus.Counter
}

func (w *worker) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			w.logger.Debug("worker exiting")
			return
		default:
		}
		job, err := w.jobs.Get(popTimeout)
		if err != nil {
			if err == queue.ErrClosed {
				w.logger.Debug("job queue closed, worker exiting")
				return
			}
			continue
		}
		w.process(&job)
	}
}

// process advances one job through its transition and reports the
// outcome. A failing or panicking transition marks the job FAILED and
// still produces a status record; it never takes the worker down.
func (w *worker) process(job *balsam.Job) {
	factory, ok := w.appCache[job.AppID]
	if !ok {
		w.fail(job, fmt.Errorf("no application loaded for app id %d", job.AppID))
	} else if err := w.runTransition(factory(), job); err != nil {
		w.fail(job, err)
	}
	job.StateTimestamp = time.Now().UTC()
	rec := balsam.StatusRecord{
		JobID:          job.ID,
		State:          job.State,
		StateTimestamp: job.StateTimestamp,
		StateData:      job.StateData,
	}
	if err := w.statuses.Put(rec); err != nil {
		w.logger.WithError(err).Errorf("could not report job %d state %s", job.ID, job.State)
		return
	}
	if job.State == balsam.JobStateFailed {
		w.mFailed.Inc()
	} else {
		w.mProcessed.Inc()
	}
	w.logger.Debugf("job %d advanced to %s", job.ID, job.State)
}

func (w *worker) fail(job *balsam.Job, err error) {
	w.logger.WithError(err).Errorf("marking job %d FAILED", job.ID)
	from := job.State
	job.State = balsam.JobStateFailed
	job.StateData = map[string]string{
		"message":   fmt.Sprintf("error advancing job from state %s", from),
		"exception": err.Error(),
	}
}

// runTransition selects the transition for the job's triggering state
// and runs it scoped to the job's working directory, with output
// appended to the job's log file. The log file is closed on every
// exit path; a panic in the transition is recovered and returned as
// an error.
func (w *worker) runTransition(runner apps.Runner, job *balsam.Job) error {
	name, fn, err := transitionFunc(runner, job.State)
	if err != nil {
		return err
	}
	workdir := filepath.Join(w.dataPath, job.Workdir)
	if err := os.MkdirAll(workdir, 0777); err != nil {
		return fmt.Errorf("error creating workdir for job %d: %w", job.ID, err)
	}
	logfile, err := os.OpenFile(filepath.Join(workdir, logFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file for job %d: %w", job.ID, err)
	}
	defer logfile.Close()
	fmt.Fprintf(logfile, "#BALSAM Running %s for Job %d\n", name, job.ID)
	env := &apps.Env{Job: job, Workdir: workdir, Stdout: logfile}
	return runScoped(name, fn, env)
}

// runScoped converts a transition panic into an error.
func runScoped(name string, fn func(*apps.Env) error, env *apps.Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", name, p)
		}
	}()
	if err := fn(env); err != nil {
		return fmt.Errorf("error in %s: %w", name, err)
	}
	return nil
}

// transitionFunc maps a triggering state to its transition. An
// unrecognized state is an error, not a silent no-op.
func transitionFunc(runner apps.Runner, state balsam.JobState) (string, func(*apps.Env) error, error) {
	switch state {
	case balsam.JobStateStagedIn:
		return "preprocess", runner.Preprocess, nil
	case balsam.JobStateRunDone:
		return "postprocess", runner.Postprocess, nil
	case balsam.JobStateRunError:
		return "handle_error", runner.HandleError, nil
	case balsam.JobStateRunTimeout:
		return "handle_timeout", runner.HandleTimeout, nil
	default:
		return "", nil, fmt.Errorf("no transition runs from state %q", state)
	}
}
