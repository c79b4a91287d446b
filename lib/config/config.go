// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the site processing daemon's YAML
// configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ghodss/yaml"

	"github.com/keceli/balsam/sdk/go/balsam"
)

// Config is the daemon configuration. Zero-valued fields take the
// defaults from Default.
type Config struct {
	// Coordination service endpoint and credential.
	Client balsam.Client

	// Site this daemon serves.
	SiteID int64

	// Scheduler id of the batch allocation this daemon runs
	// inside, if any. Zero means no allocation binding.
	SchedulerID int64

	// Target standing queue depth for the prefetching job source.
	PrefetchDepth int

	// Processing worker pool size.
	NumWorkers int

	// Only acquire jobs carrying all of these tags.
	FilterTags map[string]string

	// Wall-time ceiling for this run, in minutes. Zero means
	// unlimited.
	MaxWallTimeMin int

	// Site data directory; job workdirs are relative to it.
	DataPath string

	// Site apps directory.
	AppsPath string

	// Status reporting batch policy.
	StatusBatchSize     int
	StatusFlushInterval balsam.Duration

	// Logging: logrus level name and "text" or "json".
	LogLevel  string
	LogFormat string

	// Address serving /healthz and /metrics.
	Listen string
}

// Default returns the configuration a zero config file would yield.
func Default() Config {
	return Config{
		PrefetchDepth:       32,
		NumWorkers:          5,
		DataPath:            "data",
		AppsPath:            "apps",
		StatusBatchSize:     512,
		StatusFlushInterval: balsam.Duration(time.Second),
		LogLevel:            "info",
		LogFormat:           "text",
		Listen:              ":9261",
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("error decoding config %q: %w", path, err)
	}
	return cfg, nil
}

// Dump writes cfg to w as YAML.
func Dump(w io.Writer, cfg Config) error {
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
