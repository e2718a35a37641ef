package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vehicle-reconciliation-service/cmd/reconciler/config"
	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Vehicle catalog reconciliation tool",
	Long: `Reconciler links VIN decode records to fuel-economy catalog records that
describe the same vehicle configuration. Both catalogs are normalized onto a
shared vocabulary and joined on progressively fewer attributes.

Examples:
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv --output-format json
  reconciler normalize --source vin --make mazda --value "Mazda3"
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, TOML, YAML or JSON (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, config.KeyVerbose, "v", false, "verbose output")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String(config.KeyLogFormat, "text", "log format: text, json")
	rootCmd.PersistentFlags().String(config.KeyVocabularyFile, "", "TOML or YAML vocabulary override file")

	// Bind flags to viper
	for _, key := range []string{config.KeyVerbose, config.KeyLogLevel, config.KeyLogFormat, config.KeyVocabularyFile} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
	config.SetDefaults(viper.GetViper())
}

// initConfig reads in .env, the config file and ENV variables.
func initConfig() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading .env file: %s\n", err)
			os.Exit(1)
		}
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool(config.KeyVerbose) {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// RECONCILER_EPA_FILE and friends
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the global logger from the resolved settings
func setupLogging(cmd *cobra.Command, args []string) error {
	resolved := config.LoadSettings(viper.GetViper())
	log, err := logger.NewLogger(config.CreateLoggerConfig(resolved))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", resolved.LogLevel, err)
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
