// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package balsam

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotFound is returned when the coordination service has no record
// matching the request.
var ErrNotFound = errors.New("record not found")

// TransactionError reports a non-2xx API response.
type TransactionError struct {
	Method     string
	URL        url.URL
	StatusCode int
	Status     string
	errors     []string
}

func (e TransactionError) Error() string {
	s := fmt.Sprintf("request failed: %s %s", e.Method, e.URL.String())
	if e.Status != "" {
		s += ": " + e.Status
	}
	if len(e.errors) > 0 {
		s += ": " + strings.Join(e.errors, "; ")
	}
	return s
}

func newTransactionError(req *http.Request, resp *http.Response, buf []byte) *TransactionError {
	var e TransactionError
	if json.Unmarshal(buf, &e) != nil || len(e.errors) == 0 {
		// No JSON error payload; present the first line of the
		// body, if any.
		if line := strings.SplitN(strings.TrimSpace(string(buf)), "\n", 2)[0]; line != "" {
			e.errors = []string{line}
		}
	}
	e.Method = req.Method
	if req.URL != nil {
		e.URL = *req.URL
	}
	e.Status = resp.Status
	e.StatusCode = resp.StatusCode
	return &e
}

// UnmarshalJSON reads an error payload of the form
// {"errors": ["msg1", "msg2"]}.
func (e *TransactionError) UnmarshalJSON(data []byte) error {
	var payload struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	e.errors = payload.Errors
	return nil
}
