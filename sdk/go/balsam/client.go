// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package balsam provides the data model of the Balsam coordination
// service and an HTTP client for its API.
package balsam

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// A Client is an HTTP client with a coordination-service endpoint and
// an API credential.
//
// Network-level failures of acquisition, heartbeat, and status calls
// are retried with exponential backoff before being surfaced to the
// caller; the retry policy is configurable via the Retry* fields.
type Client struct {
	// HTTP client used to make requests. If nil, a retrying
	// client is built from the fields below on first use.
	Client *http.Client `json:"-"`

	// Protocol scheme: "http", "https", or "" (https).
	Scheme string

	// Hostname (or host:port) of the coordination service.
	APIHost string

	// API authentication token.
	AuthToken string

	// Accept unverified TLS certificates.
	Insecure bool

	// Timeout for a single request attempt, retries excluded.
	// Zero means 5 minutes.
	Timeout Duration

	// Number of retries after a failed request attempt. Zero
	// means DefaultRetryMax.
	RetryMax int

	// Backoff bounds between retries. Zero means the
	// DefaultRetryWait* values.
	RetryWaitMin Duration
	RetryWaitMax Duration

	setupOnce  sync.Once
	httpClient *http.Client
}

// Default retry policy for a Client whose Retry* fields are zero.
const (
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = Duration(time.Second)
	DefaultRetryWaitMax = Duration(30 * time.Second)
)

// NewClientFromEnv returns a Client configured by the
// BALSAM_API_HOST, BALSAM_API_TOKEN, and BALSAM_API_HOST_INSECURE
// environment variables.
func NewClientFromEnv() *Client {
	insecure := false
	switch os.Getenv("BALSAM_API_HOST_INSECURE") {
	case "1", "yes", "true":
		insecure = true
	}
	return &Client{
		Scheme:    "https",
		APIHost:   os.Getenv("BALSAM_API_HOST"),
		AuthToken: os.Getenv("BALSAM_API_TOKEN"),
		Insecure:  insecure,
	}
}

func (c *Client) setup() {
	if c.Client != nil {
		c.httpClient = c.Client
		return
	}
	timeout := time.Duration(c.Timeout)
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	base := &http.Client{Timeout: timeout}
	if c.Insecure {
		base.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.Logger = nil
	rc.RetryMax = c.RetryMax
	if rc.RetryMax == 0 {
		rc.RetryMax = DefaultRetryMax
	}
	rc.RetryWaitMin = time.Duration(c.RetryWaitMin)
	if rc.RetryWaitMin == 0 {
		rc.RetryWaitMin = time.Duration(DefaultRetryWaitMin)
	}
	rc.RetryWaitMax = time.Duration(c.RetryWaitMax)
	if rc.RetryWaitMax == 0 {
		rc.RetryWaitMax = time.Duration(DefaultRetryWaitMax)
	}
	c.httpClient = rc.StandardClient()
}

func (c *Client) baseURL() url.URL {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return url.URL{Scheme: scheme, Host: c.APIHost, Path: "/api/"}
}

// Do adds Authorization and X-Request-Id headers, then performs the
// request with the client's retrying transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.setupOnce.Do(c.setup)
	if c.AuthToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", "req-"+uuid.NewString())
	}
	return c.httpClient.Do(req)
}

// RequestAndDecode performs an API call and decodes the JSON response
// into dst (unless dst is nil). path is relative to the API root;
// qry, if non-nil, becomes the query string; body, if non-nil, is
// sent as a JSON request body.
func (c *Client) RequestAndDecode(ctx context.Context, dst interface{}, method, path string, qry url.Values, body interface{}) error {
	if c.APIHost == "" {
		return fmt.Errorf("API host is not set (try BALSAM_API_HOST)")
	}
	u := c.baseURL()
	u.Path += path
	if qry != nil {
		u.RawQuery = qry.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newTransactionError(req, resp, buf)
	}
	if dst == nil || len(buf) == 0 {
		return nil
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
