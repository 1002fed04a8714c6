package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan"
	"github.com/sensiblebit/chainscan/internal"
	"github.com/sensiblebit/chainscan/internal/certdb"
)

var getFormat string

var certdbGetCmd = &cobra.Command{
	Use:   "get <fingerprint>...",
	Short: "Print stored certificates",
	Long:  "Print stored certificates as PEM, or their details and stored state as text or JSON. Fingerprints are SHA-256, with or without colons.",
	Example: `  chainscan certdb get -s ./certdb 5c8b...e1
  chainscan certdb get -s ./certdb 5c8b...e1 --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCertDBGet,
}

var certdbExistsCmd = &cobra.Command{
	Use:   "exists <fingerprint>...",
	Short: "Report whether certificates are stored",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCertDBExists,
}

var certdbStateCmd = &cobra.Command{
	Use:   "state <fingerprint>...",
	Short: "Print the stored state of certificates",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCertDBState,
}

func init() {
	certdbGetCmd.Flags().StringVar(&getFormat, "format", "pem", "Output format: pem, text or json")
	registerCompletion(certdbGetCmd, completionInput{"format", formatCompletion})
}

func normalizeArgs(args []string) []string {
	fps := make([]string, len(args))
	for i, a := range args {
		fps[i] = chainscan.NormalizeFingerprint(a)
	}
	return fps
}

func runCertDBGet(cmd *cobra.Command, args []string) error {
	store, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store)

	out := cmd.OutOrStdout()
	var results []internal.InspectResult
	for _, fp := range normalizeArgs(args) {
		pemData, err := store.Get(fp)
		if err != nil {
			return fmt.Errorf("getting %s: %w", fp, err)
		}
		if getFormat == "pem" {
			if _, err := out.Write(pemData); err != nil {
				return err
			}
			continue
		}
		der, err := chainscan.PEMToDER(pemData)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", fp, err)
		}
		state, err := store.GetState(fp)
		if err != nil {
			return fmt.Errorf("getting state of %s: %w", fp, err)
		}
		results = append(results, internal.InspectDER(der, state.String()))
	}
	if getFormat == "pem" {
		return nil
	}

	output, err := internal.FormatInspectResults(results, getFormat)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, output)
	return err
}

func runCertDBExists(cmd *cobra.Command, args []string) error {
	store, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store)

	for _, fp := range normalizeArgs(args) {
		ok, err := store.Exists(fp)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%t\n", fp, ok)
	}
	return nil
}

func runCertDBState(cmd *cobra.Command, args []string) error {
	store, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(store)

	for _, fp := range normalizeArgs(args) {
		state, err := store.GetState(fp)
		switch {
		case errors.Is(err, certdb.ErrNotFound):
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tnot found\n", fp)
		case err != nil:
			return err
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", fp, state)
		}
	}
	return nil
}
