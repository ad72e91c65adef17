package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/internal/dbi"
	"github.com/mir00r/subscriber-dbi/internal/docdb"
	"github.com/mir00r/subscriber-dbi/internal/domain"
	"github.com/mir00r/subscriber-dbi/internal/handler"
	"github.com/mir00r/subscriber-dbi/internal/jsondb"
	"github.com/mir00r/subscriber-dbi/internal/middleware"
	"github.com/mir00r/subscriber-dbi/internal/server"
	"github.com/mir00r/subscriber-dbi/internal/service"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load profiles, select the configured backend and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.WithError(err).Error("Failed to start")
				return err
			}
			return a.run(ctx)
		},
	}
}

// app is one running instance of the data layer and its servers
type app struct {
	log      *logger.Logger
	registry *dbi.Registry
	backends []domain.Backend
	handler  http.Handler
	http     *server.HTTPServer
	grpc     *server.GRPCServer
	reloader *service.ProfileReloadService
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	log = logger.OrNop(log)
	a := &app{log: log}

	profiles := jsondb.New(cfg.DBI.APNCapacity, log)
	a.backends = append(a.backends, profiles)

	if cfg.DocDB.Enabled {
		docs, err := docdb.Dial(ctx, docdb.Options{
			Addr:        cfg.DocDB.Addr,
			Password:    cfg.DocDB.Password,
			DB:          cfg.DocDB.DB,
			KeyPrefix:   cfg.DocDB.KeyPrefix,
			DialTimeout: cfg.DocDB.DialTimeout,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.backends = append(a.backends, docs)
	}

	for _, p := range cfg.DBI.Profiles {
		if err := profiles.Load(ctx, p.File, p.APN); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to load profiles for APN %q: %w", p.APN, err)
		}
	}

	if cfg.DBI.WatchProfiles && len(cfg.DBI.Profiles) > 0 {
		reloader, err := service.NewProfileReloadService(profiles, cfg.DBI.Profiles, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.reloader = reloader
	}

	a.registry = dbi.NewRegistry(log, a.backends...)

	if cfg.GRPC.Enabled {
		a.grpc = server.NewGRPCServer(cfg.GRPC, log)
		a.registry.OnChange(a.grpc.Sync)
	}

	if err := a.registry.Select(cfg.DBI.Interface); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Admin.Enabled {
		h, err := newAdminRouter(cfg.Admin, a.registry, profiles, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.handler = h
		a.http = server.NewHTTPServer(cfg.Admin, h, log)
	}

	log.WithFields(map[string]interface{}{
		"version":   version,
		"interface": cfg.DBI.Interface,
		"apns":      len(cfg.DBI.Profiles),
		"docdb":     cfg.DocDB.Enabled,
		"admin":     cfg.Admin.Enabled,
		"grpc":      cfg.GRPC.Enabled,
		"watch":     a.reloader != nil,
	}).Info("Subscriber data layer initialized")

	return a, nil
}

func newAdminRouter(cfg config.AdminConfig, registry *dbi.Registry, profiles *jsondb.Backend, log *logger.Logger) (http.Handler, error) {
	jwtAuth, err := middleware.NewJWTAuthMiddleware(cfg.JWT, log)
	if err != nil {
		return nil, err
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, log)
		log.Info("Rate limiting enabled")
	}

	ready := func() (bool, string) {
		if _, ok := registry.Selected(); !ok {
			return false, "no backend selected"
		}
		return true, ""
	}

	return handler.NewRouter(handler.RouterOptions{
		Admin:       handler.NewAdminHandler(registry, profiles, log),
		Health:      handler.NewHealthHandler(version, ready),
		RateLimiter: limiter,
		JWT:         jwtAuth,
		Logger:      log,
	}), nil
}

// run serves until ctx is done or a server fails, then tears the data layer
// down.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		g.Go(func() error { return a.http.ListenAndServe(gctx) })
	}
	if a.grpc != nil {
		g.Go(func() error { return a.grpc.ListenAndServe(gctx) })
	}
	if a.reloader != nil {
		g.Go(func() error { return a.reloader.Run(gctx) })
	}

	err := g.Wait()
	a.close()
	if err != nil {
		a.log.WithError(err).Error("Server failed")
		return err
	}
	a.log.Info("Shutdown complete")
	return nil
}

func (a *app) close() {
	if a.reloader != nil {
		_ = a.reloader.Close()
	}
	if a.registry != nil {
		a.registry.Deselect()
	}
	for _, b := range a.backends {
		b.Final()
	}
}
