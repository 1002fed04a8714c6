package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan/internal/ingest"
	"github.com/sensiblebit/chainscan/internal/pipeline"
)

var validateOutput string

var validateCmd = &cobra.Command{
	Use:   "validate <chains-file>",
	Short: "Validate certificate chains from a scan dataset",
	Long: "Read a chain list (one host,fp1,fp2,... line per chain, leaf first, optionally gzipped), " +
		"resolve every fingerprint in the storage and run the selected validation methods on each " +
		"chain. Results are written as HOST,<method>...,CHAIN rows in completion order. Chains " +
		"referencing certificates missing from the storage are dropped and counted.",
	Example: `  chainscan validate -s ./certdb chains.csv.gz -o results.csv -j 8
  chainscan validate -s ./certdb chains.csv --methods chainInspector,x509 --reference-date 2020-06-01`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "-", "Result file (- for stdout)")
	validateCmd.Flags().IntP("jobs", "j", 0, "Parallel validation workers (0 validates inline)")
	validateCmd.Flags().String("export-dir", "", "Keep exported certificates in this directory (default: temporary)")
	validateCmd.Flags().String("metrics-file", "", "Write pipeline counters in Prometheus text format to this file")
	addMethodFlags(validateCmd)

	registerCompletion(validateCmd, completionInput{"output", fileCompletion})
	registerCompletion(validateCmd, completionInput{"export-dir", directoryCompletion})
	registerCompletion(validateCmd, completionInput{"metrics-file", fileCompletion})
}

func runValidate(cmd *cobra.Command, args []string) error {
	store, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store)

	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	ref, err := settings.ReferenceTime(time.Now())
	if err != nil {
		return err
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := createOutput(validateOutput)
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	cfg := pipeline.Config{
		Store:         store,
		ReferenceTime: ref,
		ExportDir:     settings.ExportDir,
		Methods:       settings.Methods,
		Registry:      reg,
		Registerer:    metrics,
	}

	var run *pipeline.ChainValidator
	err = pipeline.Run(out, settings.Jobs, cfg, func(v *pipeline.ChainValidator) error {
		stop := context.AfterFunc(cmd.Context(), func() {
			if err := v.Abort(); err != nil {
				slog.Warn("aborting validation", "error", err)
			}
		})
		defer stop()
		run = v
		return ingest.ReadChains(in, v.Schedule)
	})
	if errors.Is(err, pipeline.ErrConfig) {
		_ = out.Close()
		removeOutput(validateOutput)
		return err
	}

	var stats pipeline.Stats
	if run != nil {
		stats = run.Stats()
	}
	if settings.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(settings.MetricsFile, metrics); werr != nil {
			slog.Warn("writing metrics file", "path", settings.MetricsFile, "error", werr)
		}
	}
	if cmd.Context().Err() != nil {
		return fmt.Errorf("validation interrupted after %d chains: %w", stats.Written, cmd.Context().Err())
	}
	if err != nil {
		return fmt.Errorf("validating %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Validated %d chains: %d written, %d dropped\n",
		stats.Scheduled, stats.Written, stats.Dropped)
	return nil
}

// openInput opens a chain list, "-" meaning stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chain list: %w", err)
	}
	return f, nil
}

// nopWriteCloser keeps the pipeline from closing stdout.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// createOutput opens the result file, "-" meaning stdout.
func createOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, nil
}

func removeOutput(path string) {
	if path == "-" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing output file", "path", path, "error", err)
	}
}
