package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan"
	"github.com/sensiblebit/chainscan/internal/ingest"
	"github.com/sensiblebit/chainscan/internal/validation"
)

var analyseCmd = &cobra.Command{
	Use:   "analyse <file>...",
	Short: "Run validation methods on certificate files",
	Long: "Treat the certificates of each file as one chain, leaf first, and print the result of " +
		"every selected validation method. No storage is needed.",
	Example: `  chainscan analyse chain.pem
  chainscan analyse server.p7b --methods x509,expiry --reference-date 2020-06-01`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyse,
}

func init() {
	addMethodFlags(analyseCmd)
}

func runAnalyse(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := buildRegistry()
	if err != nil {
		return err
	}
	defer cleanup()

	methods, err := reg.Select(settings.Methods)
	if err != nil {
		return err
	}
	ref, err := settings.ReferenceTime(time.Now())
	if err != nil {
		return err
	}
	pw, err := passwords()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "chainscan-analyse-")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	out := cmd.OutOrStdout()
	cfg := validation.Config{ReferenceTime: ref}
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		ders, err := ingest.DecodeCertificates(data, path, pw)
		if err != nil {
			return err
		}
		paths, err := writeChainFiles(filepath.Join(dir, fmt.Sprint(i)), ders)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s (%d certificates):\n", path, len(ders))
		for _, m := range methods {
			values := m.Validate(cmd.Context(), paths, cfg)
			fmt.Fprintf(out, "  %s: %s\n", m.Name(), strings.Join(values, "|"))
		}
	}
	return nil
}

// writeChainFiles writes one PEM file per certificate, in chain order.
func writeChainFiles(dir string, ders [][]byte) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	paths := make([]string, len(ders))
	for i, der := range ders {
		p := filepath.Join(dir, chainscan.FingerprintDER(der)+".pem")
		if err := os.WriteFile(p, chainscan.DERToPEM(der), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", p, err)
		}
		paths[i] = p
	}
	return paths, nil
}
