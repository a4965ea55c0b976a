package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/gridops/fieldsync/internal/app"
	"github.com/gridops/fieldsync/internal/config"
	"github.com/gridops/fieldsync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Daemon runs the scheduler, the connectivity probe, the control API and the config watcher
// over one App until its context ends.
type Daemon struct {
	loader *config.Loader
	app    *app.App
	hub    *Hub
}

// New creates a daemon. loader may be nil, which disables config reloading.
func New(loader *config.Loader, a *app.App) *Daemon {
	gin.SetMode(gin.ReleaseMode)
	return &Daemon{loader: loader, app: a, hub: NewHub()}
}

// Hub returns the event hub.
func (d *Daemon) Hub() *Hub { return d.hub }

// Run listens on the configured server address and blocks until ctx is cancelled or a
// component fails.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.app.Config.Server.Addr)
	if err != nil {
		return err
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	d.app.Engine.SetEventHandler(d.hub)
	d.app.Scheduler.SetEventHandler(d.hub)

	srv := &http.Server{
		Handler:           NewRouter(ctx, d.app, d.hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return d.hub.Run(ctx)
	})

	g.Go(func() error {
		return d.app.Monitor.Run(ctx)
	})

	g.Go(func() error {
		d.app.Scheduler.Start(ctx)
		<-ctx.Done()
		d.app.Scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		logging.Info("Control API listening", map[string]interface{}{"addr": ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if d.loader != nil {
		d.loader.Watch(func(cfg *config.Config) {
			logging.Info("Configuration reloaded", map[string]interface{}{"file": d.loader.FileUsed()})
			d.app.ApplyConfig(cfg)
		}, func(err error) {
			logging.Warn("Ignoring invalid configuration change", map[string]interface{}{"error": err.Error()})
		})
	}

	err := g.Wait()
	logging.Info("Daemon stopped", nil)
	return err
}
