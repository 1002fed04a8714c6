package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan/internal/ingest"
)

var certdbImportCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Import certificates from files, directories and archives",
	Long: "Import certificates into the storage. Paths may be PEM, DER, PKCS#7, PKCS#12 or JKS files, " +
		"zip/tar/tar.gz archives of them, certificate lists (.csv or .csv.gz with fingerprint,base64 lines) " +
		"or directories walked recursively. Each certificate is stored as valid, expired or broken " +
		"according to the reference date.",
	Example: `  chainscan certdb import -s ./certdb scans/2020-06-01_certs.csv.gz
  chainscan certdb import -s ./certdb ./trust-stores --passwords changeit`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCertDBImport,
}

func init() {
	certdbImportCmd.Flags().String("reference-date", "", "Date (YYYY-MM-DD) certificate validity is judged at (default: now)")
}

func runCertDBImport(cmd *cobra.Command, args []string) error {
	store, err := openStore(false)
	if err != nil {
		return err
	}
	defer closeStore(store)

	ref, err := settings.ReferenceTime(time.Now())
	if err != nil {
		return err
	}
	pw, err := passwords()
	if err != nil {
		return err
	}

	im := &ingest.Importer{Store: store, ReferenceTime: ref, Passwords: pw}
	for _, path := range args {
		if err := im.ImportPath(cmd.Context(), path); err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
	}

	stats := im.Stats()
	slog.Info("import finished",
		"seen", stats.Seen,
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d certificates: %d new or updated, %d duplicates, %d failed\n",
		stats.Seen, stats.Inserted, stats.Duplicates, stats.Failed)
	return nil
}
