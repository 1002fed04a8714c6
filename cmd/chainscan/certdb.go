package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan/internal/certdb"
)

var (
	setupLevels      int
	setupOwner       string
	setupDescription string
)

var certdbCmd = &cobra.Command{
	Use:   "certdb",
	Short: "Manage a certificate storage",
	Long:  "Create a CertDB storage, import certificates into it and query, export or administer stored certificates by SHA-256 fingerprint.",
}

var certdbSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a new storage",
	Example: `  chainscan certdb setup -s ./certdb
  chainscan certdb setup -s ./certdb --levels 0 --owner research`,
	Args: cobra.NoArgs,
	RunE: runCertDBSetup,
}

func init() {
	certdbSetupCmd.Flags().IntVar(&setupLevels, "levels", 2, "Directory levels of two hex characters each (0 for flat)")
	certdbSetupCmd.Flags().StringVar(&setupOwner, "owner", "", "Owner recorded in the storage config")
	certdbSetupCmd.Flags().StringVar(&setupDescription, "description", "", "Description recorded in the storage config")

	certdbCmd.AddCommand(certdbSetupCmd)
	certdbCmd.AddCommand(certdbImportCmd)
	certdbCmd.AddCommand(certdbGetCmd)
	certdbCmd.AddCommand(certdbExistsCmd)
	certdbCmd.AddCommand(certdbStateCmd)
	certdbCmd.AddCommand(certdbExportCmd)
	certdbCmd.AddCommand(certdbDeleteCmd)
	certdbCmd.AddCommand(certdbMarkCmd)
	certdbCmd.AddCommand(certdbArchiveCmd)
	certdbCmd.AddCommand(certdbStatsCmd)
}

func runCertDBSetup(cmd *cobra.Command, _ []string) error {
	root, err := settings.RequireStorage()
	if err != nil {
		return err
	}
	schema, err := certdb.NewSchema(setupLevels)
	if err != nil {
		return err
	}
	if err := certdb.Setup(root, certdb.SetupInput{
		Schema:      schema,
		Owner:       setupOwner,
		Description: setupDescription,
	}); err != nil {
		return err
	}
	slog.Info("storage created", "root", root, "schema", schema.Name())
	fmt.Fprintf(cmd.OutOrStdout(), "Created storage %s (%s)\n", root, schema.Name())
	return nil
}

// openStore opens the configured storage. Read-only opens skip the
// storage lock so queries can run next to a writer.
func openStore(readOnly bool) (*certdb.Store, error) {
	root, err := settings.RequireStorage()
	if err != nil {
		return nil, err
	}
	store, err := certdb.Open(root, certdb.OpenOptions{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening storage %s: %w", root, err)
	}
	return store, nil
}

func closeStore(store *certdb.Store) {
	if err := store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}
