// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"

	"github.com/keceli/balsam/sdk/go/balsam"
)

var _ = check.Suite(&ConfigSuite{})

type ConfigSuite struct{}

func (s *ConfigSuite) TestLoadOverDefaults(c *check.C) {
	path := filepath.Join(c.MkDir(), "processing.yml")
	err := os.WriteFile(path, []byte(`
Client:
  APIHost: balsam.example.org
  AuthToken: xyzzy
SiteID: 3
PrefetchDepth: 64
FilterTags:
  experiment: xpcs
StatusFlushInterval: 5s
LogLevel: debug
`), 0666)
	c.Assert(err, check.IsNil)

	cfg, err := Load(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Client.APIHost, check.Equals, "balsam.example.org")
	c.Check(cfg.SiteID, check.Equals, int64(3))
	c.Check(cfg.PrefetchDepth, check.Equals, 64)
	c.Check(cfg.FilterTags, check.DeepEquals, map[string]string{"experiment": "xpcs"})
	c.Check(cfg.StatusFlushInterval.Duration(), check.Equals, 5*time.Second)
	c.Check(cfg.LogLevel, check.Equals, "debug")

	// Untouched fields keep their defaults.
	c.Check(cfg.NumWorkers, check.Equals, Default().NumWorkers)
	c.Check(cfg.Listen, check.Equals, Default().Listen)
}

func (s *ConfigSuite) TestLoadMissingFile(c *check.C) {
	_, err := Load(filepath.Join(c.MkDir(), "nope.yml"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *ConfigSuite) TestLoadBadYAML(c *check.C) {
	path := filepath.Join(c.MkDir(), "processing.yml")
	c.Assert(os.WriteFile(path, []byte("{{{"), 0666), check.IsNil)
	_, err := Load(path)
	c.Check(err, check.ErrorMatches, `error decoding config .*`)
}

func (s *ConfigSuite) TestDumpLoadRoundTrip(c *check.C) {
	cfg := Default()
	cfg.SiteID = 9
	cfg.MaxWallTimeMin = 120
	cfg.StatusFlushInterval = balsam.Duration(1500 * time.Millisecond)

	var buf bytes.Buffer
	c.Assert(Dump(&buf, cfg), check.IsNil)

	path := filepath.Join(c.MkDir(), "dumped.yml")
	c.Assert(os.WriteFile(path, buf.Bytes(), 0666), check.IsNil)
	loaded, err := Load(path)
	c.Assert(err, check.IsNil)
	c.Check(loaded, check.DeepEquals, cfg)
}
