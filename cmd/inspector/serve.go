package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/defect-inspector/internal/application"
	appinspection "github.com/bryanwahyu/defect-inspector/internal/application/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/domain/intake"
	"github.com/bryanwahyu/defect-inspector/internal/infra/export"
	"github.com/bryanwahyu/defect-inspector/internal/infra/httpserver"
	"github.com/bryanwahyu/defect-inspector/internal/infra/report"
	"github.com/bryanwahyu/defect-inspector/internal/middleware"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the inspection web app",
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzer, err := newAnalyzer(cfg)
		if err != nil {
			return err
		}

		logger := log.WithField("service", "inspector")
		clock := application.SystemClock{}
		previews := intake.NewMemoryPreviews()

		var metrics *middleware.Metrics
		sessions := appinspection.NewManager(appinspection.Deps{
			Analyzer: analyzer,
			Previews: previews,
			Clock:    clock,
			Logger:   logger,
			Hooks: appinspection.Hooks{
				RunStarted:  func() { metrics.RunStarted() },
				RunFinished: func(err error, d time.Duration) { metrics.RunFinished(err, d) },
			},
		}, cfg.Session.IdleTTL)
		metrics = middleware.NewMetrics(sessions.Len)

		renderer, err := report.NewRenderer()
		if err != nil {
			return err
		}

		handler, err := httpserver.NewRouter(httpserver.Deps{
			Sessions: sessions,
			Previews: previews,
			Renderer: renderer,
			Exporter: export.NewExporter(cfg.Export.FontPath, cfg.Export.BoldFontPath),
			Metrics:  metrics,
			Checkers: map[string]middleware.HealthChecker{
				"analysis_endpoint": &middleware.EndpointChecker{BaseURL: cfg.Analysis.BaseURL},
			},
			Ready: func() error {
				if cfg.Analysis.APIKey == "" {
					return errors.New("analysis API key is not configured")
				}
				return nil
			},
			Clock:          clock,
			Logger:         logger,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      time.Minute,
			IdleTimeout:       60 * time.Second,
		}

		ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer done()
		g, gCtx := errgroup.WithContext(ctx)

		g.Go(func() error {
			sessions.Run(gCtx, cfg.Session.SweepInterval)
			return nil
		})

		g.Go(func() error {
			logger.WithFields(log.Fields{
				"addr":  srv.Addr,
				"model": analyzer.Model,
			}).Info("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}
