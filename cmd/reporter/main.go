// Command reporter renders Grafana dashboards and panels on schedules or
// on demand, archives the results, and pushes them to chat and mail
// receivers.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/api"
	"github.com/yourusername/grafana-reporter/pkg/config"
	"github.com/yourusername/grafana-reporter/pkg/cron"
	"github.com/yourusername/grafana-reporter/pkg/grafana"
	"github.com/yourusername/grafana-reporter/pkg/job"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"github.com/yourusername/grafana-reporter/pkg/notify"
	"github.com/yourusername/grafana-reporter/pkg/render"
	"github.com/yourusername/grafana-reporter/pkg/storage"
	"github.com/yourusername/grafana-reporter/pkg/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Renderer.OutputDir, 0o755); err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Client construction validates the token against the server, so a bad
	// credential stops the process here.
	clients := grafana.NewCache()
	client, err := clients.Get(startupCtx, cfg.Grafana.URL, cfg.Grafana.Token, log)
	if err != nil {
		return err
	}

	var uploader job.Uploader
	if cfg.S3 != nil {
		s3, err := storage.NewUploader(startupCtx, *cfg.S3, log)
		if err != nil {
			return err
		}
		uploader = s3
	}

	var runStore *store.Store
	if cfg.Store.Path != "" {
		runStore, err = store.NewStore(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer runStore.Close()
	}

	deps := job.Deps{
		Client:      client,
		Notifiers:   notify.Build(cfg.Notifiers, log),
		Uploader:    uploader,
		OutputDir:   cfg.Renderer.OutputDir,
		FileBaseURL: cfg.Renderer.FileBaseURL,
		NewBackend: func() (render.Backend, error) {
			return render.NewBackend(cfg.Renderer.Options, log)
		},
		Log: log,
	}
	if runStore != nil {
		deps.Recorder = runStore
	}

	var pruner cron.Pruner
	if runStore != nil {
		pruner = runStore
	}
	scheduler := cron.NewScheduler(pruner, cfg.Renderer.OutputDir, cfg.Renderer.RetentionDays, log)

	for _, jc := range cfg.Jobs {
		spec := job.Spec{
			Name:      jc.Name,
			Dashboard: jc.Dashboard,
			Panel:     jc.Panel,
			Query:     jc.Query,
			Width:     jc.Width,
			Cron:      jc.Cron,
			Notifier:  jc.Notifier,
			Receivers: jc.Receivers,
		}
		// Formats were validated at config load.
		spec.Format, _ = model.ParseFormat(jc.Format)

		j, err := job.New(spec, deps)
		if err != nil {
			return err
		}
		if err := scheduler.Register(j); err != nil {
			return err
		}
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	var lister api.RunLister
	if runStore != nil {
		lister = runStore
	}
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewHandler(deps, lister, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
