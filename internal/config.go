package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read as configuration,
// e.g. CHAINSCAN_STORAGE or CHAINSCAN_LOG_LEVEL.
const EnvPrefix = "CHAINSCAN"

// ReferenceDateLayout is the layout of the reference-date setting.
const ReferenceDateLayout = "2006-01-02"

// Settings is the resolved configuration of one invocation. Keys match the
// long flag names. Flags override environment variables, which override
// the config file.
type Settings struct {
	LogLevel     string   `mapstructure:"log-level" validate:"omitempty,oneof=debug info warn warning error"`
	Storage      string   `mapstructure:"storage"`
	Passwords    []string `mapstructure:"passwords"`
	PasswordFile string   `mapstructure:"password-file"`

	Jobs          int      `mapstructure:"jobs" validate:"gte=0,lte=4096"`
	Methods       []string `mapstructure:"methods" validate:"dive,required"`
	ReferenceDate string   `mapstructure:"reference-date" validate:"omitempty,datetime=2006-01-02"`
	ExportDir     string   `mapstructure:"export-dir"`
	TrustStore    string   `mapstructure:"trust-store" validate:"omitempty,oneof=mozilla system file"`
	TrustFile     string   `mapstructure:"trust-file" validate:"required_if=TrustStore file"`
	OpenSSL       string   `mapstructure:"openssl"`
	MetricsFile   string   `mapstructure:"metrics-file"`
}

// ReferenceTime returns the configured reference date at midnight UTC, or
// now when none is set.
func (s *Settings) ReferenceTime(now time.Time) (time.Time, error) {
	if s.ReferenceDate == "" {
		return now, nil
	}
	t, err := time.ParseInLocation(ReferenceDateLayout, s.ReferenceDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing reference date: %w", err)
	}
	return t, nil
}

// RequireStorage returns an error when no storage root is configured.
func (s *Settings) RequireStorage() (string, error) {
	if s.Storage == "" {
		return "", errors.New("no storage configured: use --storage or " + EnvPrefix + "_STORAGE")
	}
	return s.Storage, nil
}

// settingKeys are bound to the environment even when no flag declares them.
var settingKeys = []string{
	"log-level", "storage", "passwords", "password-file",
	"jobs", "methods", "reference-date", "export-dir",
	"trust-store", "trust-file", "openssl", "metrics-file",
}

var validate = validator.New()

// LoadSettings resolves settings from flags, CHAINSCAN_* environment
// variables and the optional YAML configFile, then validates them.
func LoadSettings(flags *pflag.FlagSet, configFile string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range settingKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}
