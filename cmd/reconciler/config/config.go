package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"vehicle-reconciliation-service/internal/matcher"
	"vehicle-reconciliation-service/internal/reconciler"
	"vehicle-reconciliation-service/internal/reporter"
	"vehicle-reconciliation-service/internal/store"
	"vehicle-reconciliation-service/pkg/logger"
)

// Setting keys shared by flags, config files and RECONCILER_* variables
const (
	KeyEPAFile             = "epa-file"
	KeyVINFile             = "vin-file"
	KeyWeightsFile         = "weights-file"
	KeyOutputDir           = "output-dir"
	KeyOutputFormat        = "output-format"
	KeyOutputFile          = "output-file"
	KeyWeightThreshold     = "weight-threshold"
	KeyRounds              = "rounds"
	KeyVocabularyFile      = "vocabulary-file"
	KeySQLiteFile          = "sqlite-file"
	KeySQLiteTable         = "sqlite-table"
	KeyDuplicateExampleVIN = "duplicate-example-vin"
	KeyMatchUnweighted     = "match-unweighted"
	KeyProgress            = "progress"
	KeyVerbose             = "verbose"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
)

// Settings is the resolved configuration of a reconcile run
type Settings struct {
	EPAFile     string
	VINFile     string
	WeightsFile string

	OutputDir    string
	OutputFormat string
	OutputFile   string

	WeightThreshold     int64
	Rounds              int
	VocabularyFile      string
	DuplicateExampleVIN int
	MatchUnweighted     bool

	SQLiteFile  string
	SQLiteTable string

	Progress  bool
	Verbose   bool
	LogLevel  string
	LogFormat string
}

// SetDefaults registers the default of every setting
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOutputDir, ".")
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyWeightThreshold, reconciler.DefaultWeightThreshold)
	v.SetDefault(KeyRounds, matcher.DefaultRounds)
	v.SetDefault(KeySQLiteTable, store.DefaultTable)
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
}

// LoadSettings reads every setting from v
func LoadSettings(v *viper.Viper) *Settings {
	return &Settings{
		EPAFile:             v.GetString(KeyEPAFile),
		VINFile:             v.GetString(KeyVINFile),
		WeightsFile:         v.GetString(KeyWeightsFile),
		OutputDir:           v.GetString(KeyOutputDir),
		OutputFormat:        strings.ToLower(v.GetString(KeyOutputFormat)),
		OutputFile:          v.GetString(KeyOutputFile),
		WeightThreshold:     v.GetInt64(KeyWeightThreshold),
		Rounds:              v.GetInt(KeyRounds),
		VocabularyFile:      v.GetString(KeyVocabularyFile),
		DuplicateExampleVIN: v.GetInt(KeyDuplicateExampleVIN),
		MatchUnweighted:     v.GetBool(KeyMatchUnweighted),
		SQLiteFile:          v.GetString(KeySQLiteFile),
		SQLiteTable:         v.GetString(KeySQLiteTable),
		Progress:            v.GetBool(KeyProgress),
		Verbose:             v.GetBool(KeyVerbose),
		LogLevel:            strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:           strings.ToLower(v.GetString(KeyLogFormat)),
	}
}

// Validate checks the settings a reconcile run needs
func (s *Settings) Validate() error {
	for _, input := range []struct{ key, path string }{
		{KeyEPAFile, s.EPAFile},
		{KeyVINFile, s.VINFile},
		{KeyWeightsFile, s.WeightsFile},
	} {
		if input.path == "" {
			return fmt.Errorf("%s is required", input.key)
		}
		if err := ValidateFileExists(input.path, input.key); err != nil {
			return err
		}
	}

	if s.VocabularyFile != "" {
		if err := ValidateFileExists(s.VocabularyFile, KeyVocabularyFile); err != nil {
			return err
		}
	}

	format := reporter.OutputFormat(s.OutputFormat)
	if format != reporter.FormatConsole && format != reporter.FormatJSON {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json", s.OutputFormat)
	}

	if s.WeightThreshold < 0 {
		return fmt.Errorf("weight threshold cannot be negative")
	}
	if s.Rounds < 1 || s.Rounds > len(matcher.DefaultKeySequence) {
		return fmt.Errorf("rounds must be between 1 and %d, got %d", len(matcher.DefaultKeySequence), s.Rounds)
	}
	if s.DuplicateExampleVIN < 0 {
		return fmt.Errorf("duplicate example VIN ID cannot be negative")
	}

	if s.OutputFile != "" {
		dir := filepath.Dir(s.OutputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	if s.SQLiteFile != "" {
		if err := CreateStoreConfig(s).Validate(); err != nil {
			return err
		}
	}

	return CreateLoggerConfig(s).Validate()
}

// ValidateFileExists checks that path names a readable regular file
func ValidateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

// CreateMatchingConfig creates a matching configuration with the given round count
func CreateMatchingConfig(rounds int) *matcher.MatchingConfig {
	config := matcher.DefaultMatchingConfig()
	config.Rounds = rounds
	return config
}

// CreateReconcilerConfig creates a reconciler configuration
func CreateReconcilerConfig(s *Settings) *reconciler.Config {
	config := reconciler.DefaultConfig()

	config.Catalog.ReportProgress = s.Progress
	config.WeightJoin.Threshold = s.WeightThreshold
	config.Matching = CreateMatchingConfig(s.Rounds)
	config.VocabularyFile = s.VocabularyFile
	config.MatchUnweighted = s.MatchUnweighted

	return config
}

// CreateRequest creates the reconciliation request of a run
func CreateRequest(s *Settings) *reconciler.ReconciliationRequest {
	return &reconciler.ReconciliationRequest{
		EPAFile:     s.EPAFile,
		VINFile:     s.VINFile,
		WeightsFile: s.WeightsFile,
	}
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludeProcessingStats = true
	default:
		config.Format = reporter.FormatConsole
	}

	return config
}

// CreateExportConfig creates the CSV export configuration
func CreateExportConfig(s *Settings) *reporter.ExportConfig {
	config := reporter.DefaultExportConfig()
	config.OutputDir = s.OutputDir
	config.DuplicateExampleVINID = s.DuplicateExampleVIN
	return config
}

// CreateStoreConfig creates the SQLite export configuration; the path is
// empty when no database was requested
func CreateStoreConfig(s *Settings) *store.Config {
	config := store.DefaultConfig()
	config.Path = s.SQLiteFile
	if s.SQLiteTable != "" {
		config.Table = s.SQLiteTable
	}
	return config
}

// CreateLoggerConfig creates the logger configuration; verbose forces debug
func CreateLoggerConfig(s *Settings) *logger.Config {
	config := logger.DefaultConfig()
	if s.LogLevel != "" {
		config.Level = logger.Level(s.LogLevel)
	}
	if s.Verbose {
		config.Level = logger.DebugLevel
	}
	if s.LogFormat != "" {
		config.Format = logger.Format(s.LogFormat)
	}
	return config
}
