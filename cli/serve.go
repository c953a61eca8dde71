package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go-easm/metrics"
	"go-easm/orchestrator"
	"go-easm/queue"
	"go-easm/server"
	"go-easm/workflow"
)

// shutdownGrace bounds how long running scans may finish on shutdown.
const shutdownGrace = 30 * time.Second

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.serve(ctx)
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on")
	e.bind("server.listen", "listen")
	return cmd
}

func (e *env) serve(ctx context.Context) error {
	db, err := e.openDB()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.Errorf("failed to close database: %v", err)
		}
	}()

	scanner := e.scanner()
	if err := scanner.Verify(); err != nil {
		logrus.Warnf("%v, scans will fail until it is installed", err)
	}

	rec := metrics.New()
	limiter := queue.NewLimiter(int64(e.cfg.Scan.MaxConcurrent))
	svc := e.service(db, scanner, orchestrator.WithAdmitter(limiter), orchestrator.WithMetrics(rec))
	vulns := workflow.New(db, e.cfg.MultiUser(), workflow.WithObserver(rec))

	dispatcher := queue.NewDispatcher(svc, e.cfg.Scan.MaxConcurrent, e.cfg.Scan.Backlog)
	dispatcher.Start()

	queued, err := svc.RecoverScans(ctx)
	if err != nil {
		return err
	}
	go func() {
		for _, id := range queued {
			if err := dispatcher.Resume(ctx, id); err != nil {
				logrus.Warnf("failed to resume queued scan: %v", err)
				return
			}
		}
	}()

	h := server.NewHandler(svc, vulns, dispatcher, limiter, rec.Handler(), db.Ping, e.cfg.Tier)
	app := server.New(h, e.cfg.Server.AllowOrigins)

	logrus.Infof("Starting easm %s (tier %s, %d concurrent scans)", Version, e.cfg.Tier, e.cfg.Scan.MaxConcurrent)
	serveErr := server.Start(ctx, app, e.cfg.Server.Listen)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("scan workers stopped early: %v", err)
	}
	return serveErr
}
