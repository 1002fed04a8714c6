package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/chainscan/internal"
)

var (
	configFile string
	// settings is resolved from flags, environment and config file before
	// any command runs.
	settings *internal.Settings
)

var rootCmd = &cobra.Command{
	Use:   "chainscan",
	Short: "Certificate store and chain validation tool",
	Long: "Store certificates from internet scan datasets in a content-addressed CertDB " +
		"and validate the chains servers presented with several validation methods in parallel.",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringP("storage", "s", "", "CertDB storage root (env CHAINSCAN_STORAGE)")
	rootCmd.PersistentFlags().StringSliceP("passwords", "p", nil, "Comma-separated passwords for PKCS#12 and JKS containers")
	rootCmd.PersistentFlags().String("password-file", "", "File containing passwords, one per line")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file with defaults for any flag")

	registerCompletion(rootCmd, completionInput{"log-level", fixedCompletion("debug", "info", "warn", "error")})
	registerCompletion(rootCmd, completionInput{"storage", directoryCompletion})
	registerCompletion(rootCmd, completionInput{"password-file", fileCompletion})
	registerCompletion(rootCmd, completionInput{"config", fileCompletion})

	rootCmd.AddCommand(certdbCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(analyseCmd)
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	s, err := internal.LoadSettings(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	settings = s
	internal.SetupLogger(s.LogLevel)
	return nil
}

func passwords() ([]string, error) {
	pw, err := internal.ProcessPasswords(settings.Passwords, settings.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("loading passwords: %w", err)
	}
	return pw, nil
}
