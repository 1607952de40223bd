package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
	"github.com/plateflow/plateflow/pkg/ingest/sources"
	"github.com/plateflow/plateflow/pkg/tui"
	"github.com/plateflow/plateflow/pkg/watch"
)

var (
	watchDebounce    time.Duration
	watchExisting    bool
	watchMetricsAddr string
	watchQuarantine  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <dataset-id> <dir>",
	Short: "Ingest plate files as they appear in a directory",
	Long: `Watch a directory and ingest each plate file once it has stopped
changing. Files written at about the same time are ingested as one batch.
A rewritten file is ingested again and normally fails as duplicate data.

Prometheus metrics are served on --metrics-addr (or telemetry.metrics_addr).

Examples:
  plateflow watch 3f2a… /instrument/export
  plateflow watch 3f2a… ./drop --existing --metrics-addr :9108`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runWatch),
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "Quiet period before a file is ingested")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also ingest files already in the directory")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Listen address for /metrics (default from config)")
	watchCmd.Flags().StringVar(&watchQuarantine, "quarantine", "", "Move files that fail with a data error into this directory")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	datasetID := args[0]
	if _, err := a.store.GetDataset(ctx, datasetID); err != nil {
		return err
	}

	w, err := watch.NewWatcher(args[1], watch.Options{
		Debounce: watchDebounce,
		Known:    detect.Known,
		Existing: watchExisting,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	addr := watchMetricsAddr
	if addr == "" {
		addr = a.cfg.Telemetry.MetricsAddr
	}
	if addr != "" {
		stop, err := serveMetrics(ctx, addr, a)
		if err != nil {
			w.Close()
			return err
		}
		defer stop()
	}

	var q *watch.Quarantine
	if watchQuarantine != "" {
		if q, err = watch.NewQuarantine(watchQuarantine); err != nil {
			w.Close()
			return err
		}
		defer q.Close()
	}

	svc := a.service(nil)
	a.logger.Info("watching", "dir", w.Dir(), "dataset", datasetID)
	err = w.Run(ctx, func(ctx context.Context, paths []string) error {
		files := make([]core.Source, 0, len(paths))
		for _, p := range paths {
			src, err := sources.NewFileSource(p)
			if err != nil {
				a.logger.Warn("file vanished", "file", p, "error", err)
				continue
			}
			files = append(files, src)
		}
		if len(files) == 0 {
			return nil
		}
		results, err := svc.Upload(ctx, datasetID, files)
		if err != nil {
			return err
		}
		tui.Results(cmd.OutOrStdout(), results)
		if q != nil {
			quarantine(a, q, files, results)
		}
		if failed := ingest.Failures(results); len(failed) > 0 {
			return fmt.Errorf("%w: %d of %d failed", errFilesFailed, len(failed), len(results))
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// quarantine moves files rejected for their content. Storage and lock
// failures leave the file in place to be retried on its next change.
func quarantine(a *app, q *watch.Quarantine, files []core.Source, results []ingest.Result) {
	for i, r := range results {
		if r.Success || !pferrors.IsDomain(r.Err) || errors.Is(r.Err, pferrors.ErrDuplicateData) {
			continue
		}
		rej, err := q.Add(files[i].Location(), string(pferrors.GetCode(r.Err)), r.Error)
		if err != nil {
			a.logger.Warn("quarantine failed", "file", files[i].Location(), "error", err)
			continue
		}
		a.logger.Info("file quarantined", "file", rej.File, "moved", rej.Moved, "code", rej.Code)
	}
}

// serveMetrics serves Prometheus metrics until the returned stop is called.
func serveMetrics(ctx context.Context, addr string, a *app) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}
