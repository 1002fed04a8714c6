package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan/internal/certdb"
)

var (
	exportDir  string
	exportMove bool
)

var certdbExportCmd = &cobra.Command{
	Use:   "export <fingerprint>...",
	Short: "Export certificates as PEM files",
	Long: "Write <dir>/<fingerprint>.pem for each certificate. With --move the storage's own " +
		"copy is removed after a successful export.",
	Example: `  chainscan certdb export -s ./certdb -o ./out 5c8b...e1
  chainscan certdb export -s ./certdb -o ./quarantine --move 5c8b...e1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCertDBExport,
}

func init() {
	certdbExportCmd.Flags().StringVarP(&exportDir, "out", "o", ".", "Directory the PEM files are written to")
	certdbExportCmd.Flags().BoolVar(&exportMove, "move", false, "Remove the certificates from the storage after exporting")
	registerCompletion(certdbExportCmd, completionInput{"out", directoryCompletion})
}

func runCertDBExport(cmd *cobra.Command, args []string) error {
	store, err := openStore(!exportMove)
	if err != nil {
		return err
	}
	defer closeStore(store)

	var missing []string
	for _, fp := range normalizeArgs(args) {
		path, err := store.Export(fp, exportDir, !exportMove)
		if errors.Is(err, certdb.ErrCertNotAvailable) {
			slog.Warn("certificate not stored", "fingerprint", fp)
			missing = append(missing, fp)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d of %d certificates not stored", len(missing), len(args))
	}
	return nil
}
