// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package balsam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ClientSuite{})

type ClientSuite struct {
	server  *httptest.Server
	client  *Client
	mtx     sync.Mutex
	reqs    []*http.Request
	status  int
	respond interface{}
}

func (s *ClientSuite) SetUpTest(c *check.C) {
	s.reqs = nil
	s.status = http.StatusOK
	s.respond = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mtx.Lock()
		s.reqs = append(s.reqs, r.Clone(context.Background()))
		status, respond := s.status, s.respond
		s.mtx.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if respond != nil {
			json.NewEncoder(w).Encode(respond)
		}
	}))
	u, err := url.Parse(s.server.URL)
	c.Assert(err, check.IsNil)
	s.client = &Client{
		Scheme:       "http",
		APIHost:      u.Host,
		AuthToken:    "xyzzy",
		RetryMax:     1,
		RetryWaitMin: Duration(time.Millisecond),
		RetryWaitMax: Duration(time.Millisecond),
	}
}

func (s *ClientSuite) TearDownTest(c *check.C) {
	s.server.Close()
}

func (s *ClientSuite) lastReq(c *check.C) *http.Request {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c.Assert(len(s.reqs) > 0, check.Equals, true)
	return s.reqs[len(s.reqs)-1]
}

func (s *ClientSuite) TestRequestHeaders(c *check.C) {
	err := s.client.RequestAndDecode(context.Background(), nil, "GET", "apps", nil, nil)
	c.Assert(err, check.IsNil)
	req := s.lastReq(c)
	c.Check(req.Header.Get("Authorization"), check.Equals, "Bearer xyzzy")
	c.Check(strings.HasPrefix(req.Header.Get("X-Request-Id"), "req-"), check.Equals, true)
}

func (s *ClientSuite) TestAcquireJobs(c *check.C) {
	s.respond = JobList{Items: []Job{
		{ID: 11, AppID: 7, State: JobStateStagedIn, Workdir: "runs/11"},
		{ID: 12, AppID: 7, State: JobStateRunDone, Workdir: "runs/12"},
	}}
	jobs, err := s.client.AcquireJobs(context.Background(), 3, AcquisitionRequest{
		MaxNumJobs: 2,
		States:     ProcessableStates,
	})
	c.Assert(err, check.IsNil)
	c.Check(jobs, check.HasLen, 2)
	c.Check(jobs[0].ID, check.Equals, int64(11))

	req := s.lastReq(c)
	c.Check(req.Method, check.Equals, "POST")
	c.Check(req.URL.Path, check.Equals, "/api/sessions/3")
	c.Check(req.Header.Get("Content-Type"), check.Equals, "application/json")
}

func (s *ClientSuite) TestSessionLifecycleCalls(c *check.C) {
	s.respond = Session{ID: 5, SiteID: 1}
	session, err := s.client.CreateSession(context.Background(), Session{SiteID: 1})
	c.Assert(err, check.IsNil)
	c.Check(session.ID, check.Equals, int64(5))
	c.Check(s.lastReq(c).Method, check.Equals, "POST")
	c.Check(s.lastReq(c).URL.Path, check.Equals, "/api/sessions")

	s.respond = nil
	c.Check(s.client.HeartbeatSession(context.Background(), 5), check.IsNil)
	c.Check(s.lastReq(c).Method, check.Equals, "PUT")
	c.Check(s.lastReq(c).URL.Path, check.Equals, "/api/sessions/5")

	c.Check(s.client.DeleteSession(context.Background(), 5), check.IsNil)
	c.Check(s.lastReq(c).Method, check.Equals, "DELETE")
}

func (s *ClientSuite) TestBulkUpdateJobs(c *check.C) {
	records := []StatusRecord{{JobID: 1, State: JobStateFailed}}
	c.Check(s.client.BulkUpdateJobs(context.Background(), records), check.IsNil)
	req := s.lastReq(c)
	c.Check(req.Method, check.Equals, "PATCH")
	c.Check(req.URL.Path, check.Equals, "/api/jobs")
}

func (s *ClientSuite) TestBulkUpdateEmptyIsNoCall(c *check.C) {
	c.Check(s.client.BulkUpdateJobs(context.Background(), nil), check.IsNil)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c.Check(s.reqs, check.HasLen, 0)
}

func (s *ClientSuite) TestLookupBatchJob(c *check.C) {
	s.respond = BatchJobList{Items: []BatchJob{{ID: 42, SiteID: 1, SchedulerID: 777}}}
	batchJob, err := s.client.LookupBatchJob(context.Background(), 1, 777)
	c.Assert(err, check.IsNil)
	c.Check(batchJob.ID, check.Equals, int64(42))
	req := s.lastReq(c)
	c.Check(req.URL.Query().Get("scheduler_id"), check.Equals, "777")

	s.respond = BatchJobList{}
	_, err = s.client.LookupBatchJob(context.Background(), 1, 888)
	c.Check(err, check.Equals, ErrNotFound)
}

func (s *ClientSuite) TestNotFound(c *check.C) {
	s.status = http.StatusNotFound
	err := s.client.RequestAndDecode(context.Background(), nil, "GET", "apps", nil, nil)
	c.Check(err, check.Equals, ErrNotFound)
}

func (s *ClientSuite) TestTransactionError(c *check.C) {
	s.status = http.StatusForbidden
	s.respond = map[string][]string{"errors": {"permission denied"}}
	err := s.client.RequestAndDecode(context.Background(), nil, "GET", "apps", nil, nil)
	c.Check(err, check.ErrorMatches, `request failed: .*: 403 Forbidden: permission denied`)
}

// 5xx responses are retried before the error is surfaced.
func (s *ClientSuite) TestRetryOnServerError(c *check.C) {
	s.status = http.StatusInternalServerError
	err := s.client.RequestAndDecode(context.Background(), nil, "GET", "apps", nil, nil)
	c.Check(err, check.NotNil)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c.Check(len(s.reqs), check.Equals, 2)
}
