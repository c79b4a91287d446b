// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// balsam-processing is the site processing daemon: it leases jobs
// from the coordination service, runs their lifecycle transitions in
// a local worker pool, and reports state changes back in bulk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/keceli/balsam/lib/config"
	"github.com/keceli/balsam/lib/processing"
	"github.com/keceli/balsam/lib/statusupdater"
	"github.com/keceli/balsam/sdk/go/balsam"
)

var (
	version           = "dev"
	defaultConfigPath = "/etc/balsam/balsam-processing.yml"
)

func main() {
	os.Exit(run(os.Args[0], os.Args[1:]))
}

func run(prog string, args []string) int {
	flags := flag.NewFlagSet(prog, flag.ExitOnError)
	flags.Usage = func() { usage(flags) }
	configPath := flags.String("config", defaultConfigPath, "`path` to YAML configuration file")
	dumpConfig := flags.Bool("dump-config", false, "write effective configuration to stdout and exit")
	getVersion := flags.Bool("version", false, "print version information and exit")
	flags.Parse(args)

	if *getVersion {
		fmt.Printf("balsam-processing %s\n", version)
		return 0
	}

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if os.IsNotExist(err) && *configPath == defaultConfigPath {
		logger.Info("no config file found, continuing with default configuration")
	} else if err != nil {
		logger.WithError(err).Error("error loading config")
		return 1
	}
	if *dumpConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			logger.WithError(err).Error("error dumping config")
			return 1
		}
		return 0
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logger.WithError(err).Error("invalid log level")
		return 1
	} else {
		logger.SetLevel(level)
	}
	switch cfg.LogFormat {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.Errorf("unknown log format %q", cfg.LogFormat)
		return 1
	}
	logger.Infof("balsam-processing %s started", version)

	client := &cfg.Client
	if client.APIHost == "" {
		client = balsam.NewClientFromEnv()
	}

	reg := prometheus.NewRegistry()
	svc, err := processing.New(context.Background(), client, logger, reg, processing.Config{
		SiteID:         cfg.SiteID,
		SchedulerID:    cfg.SchedulerID,
		PrefetchDepth:  cfg.PrefetchDepth,
		NumWorkers:     cfg.NumWorkers,
		FilterTags:     cfg.FilterTags,
		MaxWallTimeMin: cfg.MaxWallTimeMin,
		DataPath:       cfg.DataPath,
		AppsPath:       cfg.AppsPath,
		StatusUpdater: statusupdater.Config{
			BatchSize:     cfg.StatusBatchSize,
			FlushInterval: cfg.StatusFlushInterval.Duration(),
		},
	})
	if err != nil {
		logger.WithError(err).Error("error initializing processing service")
		return 1
	}

	if cfg.Listen != "" {
		router := chi.NewRouter()
		router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		router.Method("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Infof("serving metrics at %s", cfg.Listen)
			if err := http.ListenAndServe(cfg.Listen, router); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	svc.Start()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch
	logger.Infof("caught signal %v, draining", sig)
	svc.Terminate()
	svc.Join()
	return 0
}
