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

// App describes an application registered at a site. ClassPath names
// the application definition the processing pipeline loads to run
// lifecycle transitions for jobs owned by this app.
type App struct {
	ID          int64             `json:"id"`
	SiteID      int64             `json:"site_id"`
	ClassPath   string            `json:"class_path"`
	Description string            `json:"description,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// AppList is the response to an app list call.
type AppList struct {
	Items []App `json:"items"`
}

// ListApps returns all applications registered at the given site.
func (c *Client) ListApps(ctx context.Context, siteID int64) ([]App, error) {
	qry := url.Values{"site_id": {strconv.FormatInt(siteID, 10)}}
	var list AppList
	err := c.RequestAndDecode(ctx, &list, "GET", "apps", qry, nil)
	if err != nil {
		return nil, fmt.Errorf("error listing apps for site %d: %w", siteID, err)
	}
	return list.Items, nil
}
