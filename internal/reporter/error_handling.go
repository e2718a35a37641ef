package reporter

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with enhanced error handling
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, falling back to the console format
// when the requested format fails
func (srg *SafeReportGenerator) GenerateReportSafely(analysis *Analysis, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if err := srg.validateInputs(analysis, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(analysis, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Info("Report generation completed successfully")
	return nil
}

// GenerateReportFile writes the report to path. If path cannot be written the
// report goes to a backup file next to it, then to the temp directory; the
// path actually written is returned.
func (srg *SafeReportGenerator) GenerateReportFile(analysis *Analysis, path string) (string, error) {
	if err := srg.validateInputs(analysis, io.Discard); err != nil {
		return "", err
	}

	err := srg.writeFile(analysis, path)
	if err == nil {
		return path, nil
	}
	if !isFileError(err) {
		return "", srg.wrapGenerationError(err)
	}

	srg.logger.WithError(err).WithField("file", path).Warn("Report output failed, attempting backup location")

	for _, backup := range backupPaths(path) {
		if backupErr := srg.writeFile(analysis, backup); backupErr != nil {
			srg.logger.WithError(backupErr).WithField("backup_file", backup).Warn("Backup output failed")
			continue
		}

		srg.logger.WithField("backup_file", backup).Info("Report generated successfully using output fallback")
		fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", path, backup)
		return backup, nil
	}

	return "", errors.ExportError(errors.CodeWriteFailed, path, err).
		WithSuggestion("Check the permissions and free space of the output location")
}

func (srg *SafeReportGenerator) writeFile(analysis *Analysis, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := srg.generateWithFallback(analysis, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(analysis *Analysis, writer io.Writer) error {
	if analysis == nil || analysis.Result() == nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_generation",
			fmt.Errorf("analysis is required"),
		).WithSuggestion("Provide the analysis of a completed reconciliation run")
	}

	if writer == nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_generation",
			fmt.Errorf("writer is required"),
		).WithSuggestion("Provide a valid output writer")
	}

	return nil
}

// generateWithFallback attempts to generate the report with fallback strategies
func (srg *SafeReportGenerator) generateWithFallback(analysis *Analysis, writer io.Writer) error {
	err := srg.GenerateReport(analysis, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.config.Format != FormatConsole && !isFileError(err) {
		return srg.generateWithFormatFallback(analysis, writer, err)
	}

	return srg.wrapGenerationError(err)
}

// generateWithFormatFallback attempts to generate with the console format
func (srg *SafeReportGenerator) generateWithFormatFallback(analysis *Analysis, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(analysis, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.ExportError(
		errors.CodeWriteFailed,
		"report",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

// backupPaths lists the fallback locations of a report file
func backupPaths(originalPath string) []string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s_backup%s", base[:len(base)-len(ext)], ext)

	return []string{
		filepath.Join(filepath.Dir(originalPath), name),
		filepath.Join(os.TempDir(), name),
	}
}

// isFileError checks if the error is file-related
func isFileError(err error) bool {
	var pathErr *fs.PathError
	return stderrors.As(err, &pathErr) ||
		stderrors.Is(err, fs.ErrPermission) ||
		stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, syscall.ENOSPC)
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
