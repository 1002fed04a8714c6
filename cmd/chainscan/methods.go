package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan"
	"github.com/sensiblebit/chainscan/internal/validation"
)

var methodsDescription bool

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the available validation methods",
	Long: "List the validation methods in report order. The openssl method is only listed when an " +
		"openssl binary is found and the trust store can be handed to it as a file.",
	Args: cobra.NoArgs,
	RunE: runMethods,
}

func init() {
	methodsCmd.Flags().BoolVarP(&methodsDescription, "description", "d", false, "Show a description of each method")
	addTrustFlags(methodsCmd)
}

func runMethods(cmd *cobra.Command, _ []string) error {
	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	lines := reg.Names()
	if methodsDescription {
		lines = reg.Describe()
	}
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

// addTrustFlags adds the flags that configure the built-in methods.
func addTrustFlags(cmd *cobra.Command) {
	cmd.Flags().String("trust-store", chainscan.TrustStoreMozilla, "Roots for chain verification: mozilla, system, file")
	cmd.Flags().String("trust-file", "", "PEM, DER or PKCS#7 root bundle for --trust-store file")
	cmd.Flags().String("openssl", "", "openssl binary for the openssl method (default: openssl in PATH)")

	registerCompletion(cmd, completionInput{"trust-store", trustStoreCompletion})
	registerCompletion(cmd, completionInput{"trust-file", fileCompletion})
	registerCompletion(cmd, completionInput{"openssl", fileCompletion})
}

// addMethodFlags adds the flags of commands that run validation methods.
func addMethodFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("methods", nil, "Comma-separated methods to run in this order (default: all)")
	cmd.Flags().String("reference-date", "", "Date (YYYY-MM-DD) chains are validated at (default: now)")
	addTrustFlags(cmd)
}

// buildRegistry returns the frozen registry of built-in methods for the
// configured trust store. The returned cleanup removes temporary files and
// must be called once the registry is no longer used.
func buildRegistry() (*validation.Registry, func(), error) {
	pool, err := chainscan.LoadTrustPool(chainscan.TrustPoolInput{
		Store: settings.TrustStore,
		File:  settings.TrustFile,
	})
	if err != nil {
		return nil, nil, err
	}

	caFile, cleanup, err := opensslCAFile()
	if err != nil {
		return nil, nil, err
	}
	reg, err := validation.NewDefaultRegistry(validation.DefaultOptions{
		Roots:         pool,
		OpenSSLBinary: settings.OpenSSL,
		OpenSSLCAFile: caFile,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("building method registry: %w", err)
	}
	reg.Freeze()
	return reg, cleanup, nil
}

// opensslCAFile returns a file holding the configured trust store for
// "openssl verify -CAfile". The system store has no portable file form, so
// the openssl method is left out for it.
func opensslCAFile() (string, func(), error) {
	noop := func() {}
	switch settings.TrustStore {
	case chainscan.TrustStoreFile:
		return settings.TrustFile, noop, nil
	case chainscan.TrustStoreSystem:
		return "", noop, nil
	}

	f, err := os.CreateTemp("", "chainscan-roots-*.pem")
	if err != nil {
		return "", nil, fmt.Errorf("creating root bundle: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil {
			slog.Warn("removing root bundle", "path", f.Name(), "error", err)
		}
	}
	if _, err := f.Write(chainscan.MozillaRootsPEM()); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing root bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("writing root bundle: %w", err)
	}
	return f.Name(), cleanup, nil
}
