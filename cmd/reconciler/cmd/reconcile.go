package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vehicle-reconciliation-service/cmd/reconciler/config"
	"vehicle-reconciliation-service/internal/matcher"
	"vehicle-reconciliation-service/internal/reconciler"
	"vehicle-reconciliation-service/internal/reporter"
	"vehicle-reconciliation-service/internal/store"
	"vehicle-reconciliation-service/pkg/errors"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match VIN decode records to fuel-economy catalog records",
	Long: `Reconcile loads the fuel-economy catalog, the VIN decode catalog and the
VIN registration counts, filters and normalizes both catalogs, and joins
them on progressively fewer attributes.

This command requires:
- A fuel-economy catalog (CSV, optionally .gz or .zst)
- A VIN decode catalog (CSV, optionally .gz or .zst)
- A headerless VIN,count weight table

Examples:
  # Basic reconciliation, exports written to the current directory
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv

  # JSON summary and exports in a separate directory
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv \
    --output-dir out --output-format json --output-file out/summary.json

  # Stricter matching and a SQLite copy of the matches
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv \
    --rounds 3 --sqlite-file out/matches.db

  # Vocabulary overrides and progress indicators
  reconciler reconcile --epa-file vehicles.csv --vin-file vins.csv --weights-file counts.csv \
    --vocabulary-file vocabulary.toml --progress`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

// settings resolved by validateReconcileFlags
var settings *config.Settings

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()

	// Inputs
	flags.StringP(config.KeyEPAFile, "e", "", "path to the fuel-economy catalog CSV (required)")
	flags.StringP(config.KeyVINFile, "i", "", "path to the VIN decode catalog CSV (required)")
	flags.StringP(config.KeyWeightsFile, "w", "", "path to the VIN registration count table (required)")

	// Output flags
	flags.StringP(config.KeyOutputDir, "d", ".", "directory receiving the CSV exports")
	flags.StringP(config.KeyOutputFormat, "f", "console", "summary format: console, json")
	flags.StringP(config.KeyOutputFile, "o", "", "summary file path (default: stdout)")
	flags.String(config.KeySQLiteFile, "", "also write the matches to this SQLite database")
	flags.String(config.KeySQLiteTable, store.DefaultTable, "SQLite table receiving the matches")
	flags.Int(config.KeyDuplicateExampleVIN, 0, "VIN_ID exported to duplicate_example.csv (0: largest group)")

	// Matching configuration flags
	flags.Int64(config.KeyWeightThreshold, reconciler.DefaultWeightThreshold, "drop VINs registered this many times or fewer")
	flags.IntP(config.KeyRounds, "r", matcher.DefaultRounds, "number of progressively relaxed match rounds")
	flags.Bool(config.KeyMatchUnweighted, false, "also match VINs missing from the weight table")

	// UI flags
	flags.Bool(config.KeyProgress, false, "show progress indicators")

	// Bind flags to viper
	for _, key := range []string{
		config.KeyEPAFile, config.KeyVINFile, config.KeyWeightsFile,
		config.KeyOutputDir, config.KeyOutputFormat, config.KeyOutputFile,
		config.KeySQLiteFile, config.KeySQLiteTable, config.KeyDuplicateExampleVIN,
		config.KeyWeightThreshold, config.KeyRounds, config.KeyMatchUnweighted,
		config.KeyProgress,
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file and environment)
	settings = config.LoadSettings(viper.GetViper())

	if err := settings.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile", nil, err).
			WithSuggestion("Use 'reconciler reconcile --help' to see all available options")
	}

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stderr := cmd.ErrOrStderr()
	if settings.Verbose {
		fmt.Fprintf(stderr, "Starting reconciliation...\n")
		fmt.Fprintf(stderr, "EPA file: %s\n", settings.EPAFile)
		fmt.Fprintf(stderr, "VIN file: %s\n", settings.VINFile)
		fmt.Fprintf(stderr, "Weights file: %s\n", settings.WeightsFile)
		fmt.Fprintf(stderr, "Output directory: %s\n", settings.OutputDir)
	}

	service, err := reconciler.NewReconciliationService(config.CreateReconcilerConfig(settings))
	if err != nil {
		return err
	}

	if settings.Progress {
		service.AddProgressCallback(func(progress reconciler.ReconciliationProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete)",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete)
			if progress.CurrentStep == reconciler.StageCompleted {
				fmt.Fprintln(stderr)
			}
		})
	}

	result, err := service.Process(ctx, config.CreateRequest(settings))
	if err != nil {
		return err
	}

	analysis := reporter.Analyze(result)

	exporter, err := reporter.NewExporter(config.CreateExportConfig(settings))
	if err != nil {
		return err
	}
	manifest, err := exporter.Export(analysis)
	if err != nil {
		return err
	}

	if settings.SQLiteFile != "" {
		if err := exportSQLite(ctx, analysis); err != nil {
			return err
		}
	}

	generator, err := reporter.NewSafeReportGenerator(config.CreateReportConfig(settings.OutputFormat), nil)
	if err != nil {
		return err
	}
	if settings.OutputFile != "" {
		written, err := generator.GenerateReportFile(analysis, settings.OutputFile)
		if err != nil {
			return err
		}
		if settings.Verbose {
			fmt.Fprintf(stderr, "Summary written to %s\n", written)
		}
	} else if err := generator.GenerateReportSafely(analysis, cmd.OutOrStdout()); err != nil {
		return err
	}

	if settings.Verbose {
		fmt.Fprintf(stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(stderr, "Processed %d EPA records and %d VIN records (%d weighted).\n",
			analysis.EPARecords, analysis.VINRecords, analysis.WeightedVINs)
		fmt.Fprintf(stderr, "Matched %d VINs to %d EPA records in %d pairs.\n",
			analysis.MatchedVINs, analysis.MatchedEPAIDs, analysis.Pairs)
		fmt.Fprintf(stderr, "Wrote %d export files to %s.\n", len(manifest.Files), manifest.OutputDir)
		fmt.Fprintf(stderr, "Processing time: %v\n", analysis.Duration)
	}

	return nil
}

func exportSQLite(ctx context.Context, analysis *reporter.Analysis) error {
	exporter, err := store.NewExporter(config.CreateStoreConfig(settings))
	if err != nil {
		return err
	}

	request := analysis.Result().Request
	columns, rows := analysis.MatchProjection()
	run := store.RunRecord{
		RunID:            analysis.RunID,
		CompletedAt:      analysis.CompletedAt,
		Duration:         analysis.Duration,
		EPAFile:          request.EPAFile,
		VINFile:          request.VINFile,
		WeightsFile:      request.WeightsFile,
		Pairs:            analysis.Pairs,
		MatchedVINs:      analysis.MatchedVINs,
		WeightedFraction: analysis.WeightedFraction.String(),
	}

	return exporter.Export(ctx, run, columns, rows)
}
