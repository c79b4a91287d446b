// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"

	"github.com/keceli/balsam/lib/queue"
	"github.com/keceli/balsam/sdk/go/balsam"
)

var _ = check.Suite(&PrefetchSuite{})

type PrefetchSuite struct {
	logger logrus.FieldLogger
}

func (s *PrefetchSuite) SetUpTest(c *check.C) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	s.logger = logger
}

func (s *PrefetchSuite) newSource(api *stubAPI, cfg PrefetchConfig) *PrefetchingSource {
	if cfg.SiteID == 0 {
		cfg.SiteID = 1
	}
	if cfg.PollPeriod == 0 {
		cfg.PollPeriod = 10 * time.Millisecond
	}
	return NewPrefetching(api, s.logger, prometheus.NewRegistry(), cfg)
}

func waitFor(c *check.C, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// The fill loop is work-conserving: it requests exactly the deficit,
// and requests nothing while the queue sits at its target depth.
func (s *PrefetchSuite) TestDeficitSizing(c *check.C) {
	api := &stubAPI{}
	src := s.newSource(api, PrefetchConfig{PrefetchDepth: 4})
	src.Start()
	defer func() { src.Terminate(); src.Join() }()

	waitFor(c, func() bool { return src.Queue().Len() == 4 })
	c.Check(api.acquisition(0).MaxNumJobs, check.Equals, 4)

	// Queue at target depth: several cycles pass with no
	// further acquisition.
	n := api.acquisitionCount()
	time.Sleep(100 * time.Millisecond)
	c.Check(api.acquisitionCount(), check.Equals, n)

	// Drain 2: the next cycle requests exactly 2.
	c.Check(src.GetJobs(2), check.HasLen, 2)
	waitFor(c, func() bool { return api.acquisitionCount() > n })
	c.Check(api.lastAcquisition().MaxNumJobs, check.Equals, 2)
	waitFor(c, func() bool { return src.Queue().Len() == 4 })
}

func (s *PrefetchSuite) TestDefaultStates(c *check.C) {
	api := &stubAPI{}
	src := s.newSource(api, PrefetchConfig{PrefetchDepth: 1})
	src.Start()
	defer func() { src.Terminate(); src.Join() }()
	waitFor(c, func() bool { return api.acquisitionCount() > 0 })
	c.Check(api.acquisition(0).States, check.DeepEquals, balsam.RunnableStates)
}

func (s *PrefetchSuite) TestGetJobsBestEffort(c *check.C) {
	api := &stubAPI{}
	src := s.newSource(api, PrefetchConfig{PrefetchDepth: 3})
	src.Start()
	defer func() { src.Terminate(); src.Join() }()
	waitFor(c, func() bool { return src.Queue().Len() == 3 })
	c.Check(src.GetJobs(10), check.HasLen, 3)
	c.Check(src.GetJobs(10), check.HasLen, 0)
}

func (s *PrefetchSuite) TestGetTimeout(c *check.C) {
	api := &stubAPI{acquireJobs: func(balsam.AcquisitionRequest) []balsam.Job { return nil }}
	src := s.newSource(api, PrefetchConfig{PrefetchDepth: 2})
	src.Start()
	defer func() { src.Terminate(); src.Join() }()
	_, err := src.Get(30 * time.Millisecond)
	c.Check(err, check.Equals, queue.ErrTimeout)
}

func (s *PrefetchSuite) TestTerminateReleasesLease(c *check.C) {
	api := &stubAPI{}
	src := s.newSource(api, PrefetchConfig{PrefetchDepth: 2})
	src.Start()
	waitFor(c, func() bool { return api.acquisitionCount() > 0 })
	src.Terminate()
	src.Join()
	c.Check(api.deletedCount(), check.Equals, 1)

	// Terminate again is a no-op.
	src.Terminate()
	src.Join()
	c.Check(api.deletedCount(), check.Equals, 1)
}

// The remaining wall-time budget shrinks with elapsed process time,
// with no external adjustment between calls.
func (s *PrefetchSuite) TestWallTimeBudget(c *check.C) {
	base := time.Now()
	elapsed := time.Duration(0)
	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time { return base.Add(elapsed) }

	src := s.newSource(&stubAPI{}, PrefetchConfig{PrefetchDepth: 1, MaxWallTimeMin: 60})

	elapsed = 10 * time.Minute
	c.Check(src.acquisitionRequest(1).MaxWallTimeMin, check.Equals, 50)
	elapsed = 25 * time.Minute
	c.Check(src.acquisitionRequest(1).MaxWallTimeMin, check.Equals, 35)
	elapsed = 25*time.Minute + 29*time.Second
	c.Check(src.acquisitionRequest(1).MaxWallTimeMin, check.Equals, 35)
}

func (s *PrefetchSuite) TestNoWallTimeCeiling(c *check.C) {
	src := s.newSource(&stubAPI{}, PrefetchConfig{PrefetchDepth: 1})
	c.Check(src.acquisitionRequest(1).MaxWallTimeMin, check.Equals, 0)
}
