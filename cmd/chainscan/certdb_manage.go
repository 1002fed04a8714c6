package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan"
	"github.com/sensiblebit/chainscan/internal"
	"github.com/sensiblebit/chainscan/internal/certdb"
)

var statsList bool

var certdbDeleteCmd = &cobra.Command{
	Use:   "delete <fingerprint>...",
	Short: "Remove certificates from the storage",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCertDBDelete,
}

var certdbMarkCmd = &cobra.Command{
	Use:   "mark <state> <fingerprint>...",
	Short: "Raise the stored state of certificates",
	Long: "Record a new state for stored certificates, e.g. after a revocation check. States only move up " +
		"the order unknown < valid < expired < revoked < broken; a lower state is ignored.",
	Example:           `  chainscan certdb mark -s ./certdb revoked 5c8b...e1`,
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: stateCompletion,
	RunE:              runCertDBMark,
}

var certdbArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Fold loose certificate files into shard archives",
	Args:  cobra.NoArgs,
	RunE:  runCertDBArchive,
}

var certdbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored certificates by state",
	Args:  cobra.NoArgs,
	RunE:  runCertDBStats,
}

func init() {
	certdbStatsCmd.Flags().BoolVar(&statsList, "list", false, "Also list every stored fingerprint")
}

func runCertDBDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store)

	for _, fp := range normalizeArgs(args) {
		if err := store.Delete(fp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", fp)
	}
	return nil
}

func runCertDBMark(cmd *cobra.Command, args []string) error {
	state, err := certdb.ParseState(args[0])
	if err != nil {
		return err
	}
	store, err := openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store)

	for _, fp := range normalizeArgs(args[1:]) {
		pemData, err := store.Get(fp)
		if err != nil {
			return fmt.Errorf("marking %s: %w", fp, err)
		}
		der, err := chainscan.PEMToDER(pemData)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", fp, err)
		}
		changed, err := store.Insert(certdb.Record{Fingerprint: fp, DER: der, State: state})
		if err != nil {
			return err
		}
		current, err := store.GetState(fp)
		if err != nil {
			return err
		}
		if !changed {
			slog.Info("state not raised", "fingerprint", fp, "current", current, "requested", state)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", fp, current)
	}
	return nil
}

func runCertDBArchive(cmd *cobra.Command, _ []string) error {
	store, err := openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store)

	stats, err := store.Archive()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d certificates into %d shards\n", stats.Archived, stats.Shards)
	return nil
}

func runCertDBStats(cmd *cobra.Command, _ []string) error {
	store, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store)

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	cfg := store.Config()
	fmt.Fprintf(out, "Storage %s (%s, created %s)\n", store.Root(), store.Schema().Name(), cfg.Created.Format("2006-01-02"))
	fmt.Fprintln(out, internal.FormatStats(stats))

	if !statsList {
		return nil
	}
	return store.Fingerprints(cmd.Context(), func(fp string) error {
		state, err := store.GetState(fp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\t%s\n", fp, state)
		return err
	})
}
