// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/worldgate/internal/api"
	"github.com/holomush/worldgate/internal/observability"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the permission API",
		Long: `Serve the HTTP permission API together with the metrics and health
endpoints. Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return serve(ctx, cmd, a)
			})
		},
	}
}

func serve(ctx context.Context, cmd *cobra.Command, a *app) error {
	var (
		obs         *observability.Server
		middlewares []func(http.Handler) http.Handler
	)
	if a.cfg.Metrics.Addr != "" {
		obs = observability.NewServer(a.cfg.Metrics.Addr, func() bool { return a.ready(ctx) })
		middlewares = append(middlewares, obs.Metrics().Middleware)
	}

	handler := api.NewHandler(api.Config{
		Resolver:    a.resolver,
		Grants:      a.grantSvc,
		Moderation:  a.moderationSvc,
		Audit:       a.audit,
		Users:       a.users,
		Rooms:       a.rooms,
		Secrets:     a.cfg.Identity.Worlds,
		RateLimit:   a.cfg.API.RateLimit,
		Middlewares: middlewares,
		Logger:      a.logger,
	})

	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", a.cfg.HTTP.Addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	if obs != nil {
		obsErr, err := obs.Start()
		if err != nil {
			_ = listener.Close()
			return err
		}
		g.Go(func() error {
			select {
			case err, ok := <-obsErr:
				if ok && err != nil {
					return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
				}
			case <-ctx.Done():
			}
			return nil
		})
	}
	for _, run := range a.runners {
		g.Go(func() error { return run(ctx) })
	}
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("error stopping http server", "error", err)
		}
		if obs != nil {
			if err := obs.Stop(shutdownCtx); err != nil {
				a.logger.Warn("error stopping observability server", "error", err)
			}
		}
		return nil
	})

	cmd.Println("worldgate serving on " + listener.Addr().String())
	a.logger.Info("worldgate ready",
		slog.String("addr", listener.Addr().String()),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("cache", a.cfg.Cache.Backend),
		slog.String("invalidation", a.cfg.Cache.Invalidation),
	)
	err = g.Wait()
	a.logger.Info("shutdown complete")
	return err
}
