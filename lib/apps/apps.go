// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package apps resolves application definitions: the user-supplied
// lifecycle transition code run by the processing pipeline. Go
// application definitions register themselves by class path at init
// time; the processing service looks them up through LoadAppClass
// when building its app cache.
package apps

import (
	"fmt"
	"io"
	"sync"

	"github.com/keceli/balsam/sdk/go/balsam"
)

// Env is the scope a transition runs in: the job being advanced, its
// absolute working directory (created before the transition starts),
// and a writer appending to the job's log file. Transitions mutate
// Job.State and Job.StateData to advance the lifecycle.
type Env struct {
	Job     *balsam.Job
	Workdir string
	Stdout  io.Writer
}

// A Runner carries the four lifecycle transition functions of one
// application definition. The processing worker selects one per job
// according to the job's current triggering state.
type Runner interface {
	Preprocess(*Env) error
	Postprocess(*Env) error
	HandleError(*Env) error
	HandleTimeout(*Env) error
}

// Factory returns a fresh Runner. A new Runner is built per job, so
// implementations may keep per-job state without locking.
type Factory func() Runner

var (
	registryMtx sync.Mutex
	registry    = map[string]Factory{}
)

// Register makes an application definition loadable under the given
// class path (conventionally "module.ClassName"). It is intended to
// be called from init functions; registering the same class path
// twice panics.
func Register(classPath string, factory Factory) {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	if _, dup := registry[classPath]; dup {
		panic(fmt.Sprintf("apps: Register called twice for class path %q", classPath))
	}
	registry[classPath] = factory
}

// LoadAppClass resolves the application definition registered under
// classPath. appsPath names the site's apps directory and appears in
// the error to point at where the registration was expected.
func LoadAppClass(appsPath, classPath string) (Factory, error) {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	factory, ok := registry[classPath]
	if !ok {
		return nil, fmt.Errorf("no application registered for class path %q (apps path %s)", classPath, appsPath)
	}
	return factory, nil
}

// Base provides the default transitions of an application definition.
// Embed it to implement only the transitions an app customizes.
type Base struct{}

// Preprocess marks the job ready to run.
func (Base) Preprocess(env *Env) error {
	env.Job.State = balsam.JobStatePreprocessed
	return nil
}

// Postprocess marks the job finished.
func (Base) Postprocess(env *Env) error {
	env.Job.State = balsam.JobStateFinished
	return nil
}

// HandleError fails the job: an app with no error handler of its own
// does not retry.
func (Base) HandleError(env *Env) error {
	return fmt.Errorf("job %d hit a run error and app defines no error handler", env.Job.ID)
}

// HandleTimeout marks a timed-out job for restart.
func (Base) HandleTimeout(env *Env) error {
	env.Job.State = balsam.JobStateRestartReady
	return nil
}
