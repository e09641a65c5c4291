package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"appdate/internal/filter"
	"appdate/internal/ics"
	appLog "appdate/internal/log"
	"appdate/internal/metrics"
	"appdate/internal/session"
	"appdate/internal/web"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with scheduled refresh and backups.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	appLog.Info("appdate starting", "version", version)

	rt, err := setup(c, metrics.WithProcessCollectors())
	if err != nil {
		return err
	}
	defer rt.close()

	// CLI --listen overrides config file listen if provided.
	if c.IsSet("listen") {
		rt.cfg.Listen = c.String("listen")
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	sess := session.New(rt.store, session.Options{
		Location:  rt.loc,
		WeekStart: filter.ParseWeekday(rt.cfg.WeekStart),
		MaxBatch:  rt.cfg.MaxBatch,
		Metrics:   rt.metrics,
	})
	if err := sess.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Close()

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	err = sess.WaitReady(readyCtx)
	readyCancel()
	if err != nil {
		return fmt.Errorf("store did not deliver initial snapshots: %w", err)
	}

	sched, err := startScheduler(ctx, rt, sess)
	if err != nil {
		return err
	}
	defer func() {
		<-sched.Stop().Done()
	}()

	srv := web.NewServer(rt.cfg, web.Deps{
		Session: sess,
		Store:   rt.store,
		Importer: &ics.Importer{
			Store:    rt.store,
			MaxBatch: rt.cfg.MaxBatch,
			Location: rt.loc,
		},
		Fetcher:  ics.NewFetcher(rt.cfg.ICSCacheDir, nil),
		Metrics:  rt.metrics,
		Location: rt.loc,
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	appLog.Info("appdate exiting")
	return nil
}

// startScheduler registers the view rollover and, if configured, the
// backup export.
func startScheduler(ctx context.Context, rt *runtime, sess *session.Session) (*cron.Cron, error) {
	sched := cron.New(cron.WithLocation(rt.loc))

	if _, err := sched.AddFunc(rt.cfg.RefreshCron, func() {
		v := sess.Refresh()
		appLog.Info("view refreshed", "visible", v.Total, "from", v.Range.From)
	}); err != nil {
		return nil, fmt.Errorf("invalid refresh_cron %q: %w", rt.cfg.RefreshCron, err)
	}

	if rt.cfg.Backup.Cron != "" {
		if _, err := sched.AddFunc(rt.cfg.Backup.Cron, func() {
			path, err := writeBackupFile(ctx, rt.store, rt.cfg.Backup.Dir, time.Now().In(rt.loc))
			if err != nil {
				appLog.Error("scheduled backup failed", err)
				return
			}
			appLog.Info("scheduled backup written", "path", path)
		}); err != nil {
			return nil, fmt.Errorf("invalid backup.cron %q: %w", rt.cfg.Backup.Cron, err)
		}
	}

	sched.Start()
	appLog.Info("scheduler started", "refresh_cron", rt.cfg.RefreshCron, "backup_cron", rt.cfg.Backup.Cron)
	return sched, nil
}
