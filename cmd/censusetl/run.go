package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/census-population-etl/internal/adapter/census"
	"github.com/couchcryptid/census-population-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/census-population-etl/internal/adapter/kafka"
	"github.com/couchcryptid/census-population-etl/internal/adapter/store"
	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/observability"
	"github.com/couchcryptid/census-population-etl/internal/pipeline"
)

// enumerationTTL outlives any single run so the national ZCTA list is
// requested once.
const enumerationTTL = 12 * time.Hour

// runStates wires the fetch client, store, notifier, and metrics server
// around an orchestrator, hands it to run, and persists the run report.
// Every fatal precondition is checked before the first unit request.
func runStates(cmd *cobra.Command, e *env, run func(*pipeline.Orchestrator) (*pipeline.Report, error)) error {
	ctx := cmd.Context()
	cfg, logger := e.cfg, e.logger

	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	st, err := openStore(e)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	client := census.NewClient(cfg, metrics, logger)
	labels, err := client.FetchLabels(ctx, e.rules.CatalogConcept)
	if err != nil {
		return fmt.Errorf("load variable catalog: %w", err)
	}

	opts := pipeline.Options{
		Kind:            cfg.GeographyKind,
		StateWorkers:    cfg.StateWorkers,
		UnitConcurrency: cfg.UnitConcurrency,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Backoff:     cfg.RetryBackoff,
			MaxBackoff:  pipeline.DefaultRetryPolicy.MaxBackoff,
		},
		Household: cfg.HouseholdEnabled,
	}
	if cfg.NotifierEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		opts.Notifier = writer
		logger.Info("unit result notifications enabled", "topic", cfg.KafkaResultsTopic)
	}

	o, err := pipeline.New(census.NewCachedClient(client, enumerationTTL), st, e.rules, labels, opts, logger, metrics)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, o, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	report, err := run(o)
	if err != nil {
		return err
	}

	// The run context may already be canceled; the report is still written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	path, err := st.WriteReport(writeCtx, report.RunID, report)
	if err != nil {
		logger.Error("write run report failed", "error", err)
	}

	printReport(cmd, report, path)
	switch {
	case report.Canceled:
		return fmt.Errorf("run %s canceled", report.RunID)
	case len(report.FailedStates) > 0:
		return fmt.Errorf("run %s: %d of %d states not enumerated, %d of %d units failed", report.RunID,
			len(report.FailedStates), len(report.States), len(report.Failed), report.Units())
	case len(report.Failed) > 0:
		return fmt.Errorf("run %s: %d of %d units failed", report.RunID, len(report.Failed), report.Units())
	}
	return nil
}

// openStore opens the output tree for the configured kind and format.
func openStore(e *env) (*store.Store, error) {
	var opts []store.Option
	if e.cfg.OutputFormat == config.FormatJSON {
		for _, a := range []store.Artifact{store.Population, store.AgeGender, store.Household} {
			opts = append(opts, store.WithFormat(a, store.JSON))
		}
	}
	return store.New(e.cfg.OutputDir, e.cfg.GeographyKind, e.logger, opts...)
}

func printReport(cmd *cobra.Command, r *pipeline.Report, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s) %v\n", r.RunID, r.Kind, r.States)
	fmt.Fprintf(out, "  persisted: %d  failed: %d  retries: %d  dropped labels: %d  took: %s\n",
		r.Persisted, len(r.Failed), r.Retries, r.DroppedLabels, r.Finished.Sub(r.Started).Round(time.Millisecond))
	for _, f := range r.FailedStates {
		fmt.Fprintf(out, "  STATE NOT ENUMERATED %s after %d attempt(s): %s\n", f.Unit.StateAbbr, f.Attempts, f.Error)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(out, "  FAILED %s after %d attempt(s) at %s: %s\n", f.Unit, f.Attempts, f.Stage, f.Error)
	}
	if path != "" {
		fmt.Fprintf(out, "  report: %s\n", path)
	}
}
