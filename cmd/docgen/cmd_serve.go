// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianDocs/cmd/docgen/config"
	"github.com/AleutianAI/AleutianDocs/pkg/telemetry"
	"github.com/AleutianAI/AleutianDocs/services/docgen"
	"github.com/AleutianAI/AleutianDocs/services/docgen/observability"
	"github.com/AleutianAI/AleutianDocs/services/docgen/runstore"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the DocGen HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != 0 {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

// newRouter mounts the DocGen API under /v1 and metrics from gatherer
// on /metrics.
func newRouter(svc *docgen.Service, gatherer prometheus.Gatherer, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-docgen"))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	docgen.RegisterRoutes(v1, docgen.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := a.logger

	if a.cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	providers, err := telemetry.Init(ctx, a.cfg.Telemetry.TelemetryConfig(docgen.ServiceVersion), reg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	storeCfg := a.cfg.Store.RunStoreConfig()
	storeCfg.Logger = logger
	store, err := runstore.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	svcCfg := a.serviceConfig()
	svcCfg.Store = store
	svcCfg.Metrics = observability.NewMetrics(reg)
	if settings, err := buildLLM(&a.cfg.LLM); err != nil {
		logger.Warn("LLM not configured, runs are rejected until the config provides one", "error", err)
	} else {
		svcCfg.LLM = settings
	}
	svc := docgen.NewService(svcCfg)

	go func() {
		err := config.Watch(ctx, a.configPath, func(cfg config.DocGenConfig) {
			settings, err := buildLLM(&cfg.LLM)
			if err != nil {
				logger.Warn("Keeping previous LLM settings", "error", err)
				return
			}
			svc.UpdateLLM(settings)
			logger.Info("LLM settings updated", "model", settings.Model)
		}, logger)
		if err != nil {
			logger.Warn("Config watcher stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           newRouter(svc, reg, a.cfg.Server.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting Aleutian DocGen server", "address", srv.Addr, "version", docgen.ServiceVersion)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down Aleutian DocGen server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Runs still active at shutdown", "error", err)
	}
	return nil
}
