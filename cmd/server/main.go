package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/azybler/ch_router/pkg/api"
	"github.com/azybler/ch_router/pkg/arcflags"
	"github.com/azybler/ch_router/pkg/config"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/labels"
	"github.com/azybler/ch_router/pkg/routing"
)

func main() {
	var (
		configPath string
		addr       string
		corsOrigin string
		useFlags   bool
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve shortest-path queries over a preprocessed hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("cors-origin") {
				cfg.Server.CORSOrigin = corsOrigin
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := cfg.Logging.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return serve(cmd.Context(), cfg, useFlags, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	f.StringVar(&corsOrigin, "cors-origin", "", "CORS allowed origin (empty = same-origin)")
	f.BoolVar(&useFlags, "arc-flags", false, "route with arc flags instead of labels")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, useFlags bool, logger *slog.Logger) error {
	start := time.Now()

	h, err := graph.ReadBinary(cfg.Data.Graph)
	if err != nil {
		return fmt.Errorf("load hierarchy: %w", err)
	}
	logger.Info("hierarchy loaded", "nodes", h.G.NumNodes, "edges", h.G.NumEdges)

	set, err := labels.ReadFile(cfg.Data.Labels, h)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	opts := []routing.Option{
		routing.WithLogger(logger),
		routing.WithHeuristicScale(cfg.Search.HeuristicScale),
		routing.WithExpansionCutoff(cfg.Search.ExpansionCutoff),
		routing.WithCostCutoff(cfg.Search.CostCutoffMeters * 1000),
	}
	if useFlags {
		flags, err := arcflags.ReadFile(cfg.Data.ArcFlags)
		if err != nil {
			return fmt.Errorf("load arc flags: %w", err)
		}
		opts = append(opts, routing.WithArcFlags(flags))
		logger.Info("arc flags loaded", "cells", flags.NumCells(), "bytes", flags.Mem())
	}
	engine, err := routing.NewEngine(set, opts...)
	if err != nil {
		return fmt.Errorf("create routing engine: %w", err)
	}
	logger.Info("ready", "elapsed", time.Since(start).Round(time.Millisecond), "label_bytes", set.Mem(), "arc_flags", useFlags)

	srvCfg := api.ServerConfig{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		CORSOrigin:     cfg.Server.CORSOrigin,
		Metrics:        cfg.Server.Metrics,
		Logger:         logger,
	}
	srv := api.NewServer(srvCfg, api.NewHandlers(engine, api.NewStats(set), logger))

	if err := api.ListenAndServe(ctx, srv, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
