// Package parsers loads the vehicle catalogs and the registration-weight table.
//
// Catalog files are delimited UTF-8 text with a header row. Columns are
// projected onto the shared VehicleRecord schema: VIN catalog headers lose
// their fixed "Results_0_" marker and are renamed onto fuel-economy catalog
// naming. Every cell is cleaned on the way in (NFKC fold, lowercase, trim) and
// empty cells become the missing sentinel.
//
// Files ending in .gz or .zst are decompressed transparently.
//
// Parser Types:
//   - CatalogParser: fuel-economy (EPA) and VIN decode catalogs
//   - WeightParser: headerless VIN -> registration count table
//
// Example usage:
//
//	parser, err := NewCatalogParser(DefaultCatalogParserConfig())
//	epa, stats, err := parser.ParseEPA(ctx, "epa_data.csv")
//	vin, stats, err := parser.ParseVIN(ctx, "vin_data.csv.gz")
//
// A missing required column is a schema error and a malformed row is a parse
// error; both abort the load. There is no partial result.
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// ParseError is a recoverable problem found in a single cell. The cell falls
// back to a sentinel and the problem is reported in ParseStats.
type ParseError struct {
	Line    int
	Column  int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s: %v",
			e.Line, e.Column, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s",
		e.Line, e.Column, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          0,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File        string
	LineNumber  int
	Headers     []string
	HeaderMap   map[string]int
	RecordCount int
	ctx         context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	// Try case-insensitive lookup
	lowerName := strings.ToLower(name)
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}

	return -1
}

// HasColumn reports whether the header row contains name
func (pc *ParseContext) HasColumn(name string) bool {
	return pc.GetColumnIndex(name) != -1
}

type compressedFile struct {
	io.Reader
	closers []func() error
}

func (c *compressedFile) Close() error {
	var first error
	for _, fn := range c.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openInput opens filePath, unwrapping gzip or zstd compression by extension
func openInput(filePath string) (io.ReadCloser, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".gz":
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
		return &compressedFile{Reader: gz, closers: []func() error{gz.Close, file.Close}}, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
		return &compressedFile{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			file.Close,
		}}, nil
	default:
		return file, nil
	}
}

// OpenFile opens a CSV file and returns a csv.Reader over its decompressed content
func (bp *BaseParser) OpenFile(filePath string) (io.ReadCloser, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	if bp.config.ValidateEncoding {
		bp.logger.WithField("file_path", filePath).Debug("Validating file encoding")

		if err := bp.validateEncoding(filePath); err != nil {
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}
	}

	input, err := openInput(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, err
	}

	reader := csv.NewReader(bufio.NewReader(input))
	bp.configureReader(reader)

	bp.logger.WithField("file_path", filePath).Debug("Successfully opened CSV file")
	return input, reader, nil
}

// configureReader sets up the CSV reader with our configuration
func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // row width is checked per lookup
	reader.ReuseRecord = false
}

// validateEncoding checks that the first 100 lines are valid UTF-8
func (bp *BaseParser) validateEncoding(filePath string) error {
	input, err := openInput(filePath)
	if err != nil {
		return err
	}
	defer input.Close()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64*1024), bp.config.MaxFieldSize+1)
	lineNum := 0

	for lineNum < 100 && scanner.Scan() {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

// ReadHeaders reads the header row, renames each header with rename (if not
// nil) and checks that every required header is present.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, requiredHeaders []string, rename func(string) string) error {
	bp.logger.WithFields(logger.Fields{
		"has_header":       bp.config.HasHeader,
		"required_headers": requiredHeaders,
	}).Debug("Reading CSV headers")

	if !bp.config.HasHeader {
		parseCtx.Headers = make([]string, len(requiredHeaders))
		copy(parseCtx.Headers, requiredHeaders)
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			bp.logger.WithField("file_path", parseCtx.File).Error("File is empty or contains no data")
			return errors.SchemaError(errors.CodeEmptyTable, parseCtx.File, nil, nil)
		}

		bp.logger.WithError(err).Error("Failed to read header row")
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, 1, "headers", "", err)
	}

	parseCtx.LineNumber, _ = reader.FieldPos(0)
	parseCtx.Headers = bp.cleanHeaders(headers, rename)
	bp.buildHeaderMap(parseCtx)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Successfully read headers")

	missing := bp.findMissingHeaders(parseCtx, requiredHeaders)
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.SchemaError(errors.CodeMissingColumn, parseCtx.File, missing, nil)
	}

	return nil
}

// cleanHeaders trims headers, strips a UTF-8 byte order mark and applies rename
func (bp *BaseParser) cleanHeaders(headers []string, rename func(string) string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		if rename != nil {
			header = rename(header)
		}
		cleaned[i] = header
	}
	return cleaned
}

// buildHeaderMap creates a map from header names to column indices. The
// first occurrence of a duplicated header wins.
func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int)
	for i, header := range parseCtx.Headers {
		if _, seen := parseCtx.HeaderMap[header]; !seen {
			parseCtx.HeaderMap[header] = i
		}
	}
}

// findMissingHeaders returns a list of required headers that are not present
func (bp *BaseParser) findMissingHeaders(parseCtx *ParseContext, required []string) []string {
	var missing []string
	for _, header := range required {
		if parseCtx.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	return missing
}

// ReadRecord reads the next non-empty record. It returns io.EOF at the end of
// the input and a parse error for malformed rows.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			bp.logger.Debug("Record reading cancelled by context")
			return nil, errors.InternalError(
				errors.CodeUnexpectedError,
				"csv_parsing",
				parseCtx.ctx.Err(),
			)
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}

			line := parseCtx.LineNumber + 1
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.Line
			}
			bp.logger.WithError(err).WithField("line_number", line).Error("Failed to read CSV record")
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, line, "record", "", err)
		}

		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && bp.isEmptyRecord(record) {
			bp.logger.WithField("line_number", parseCtx.LineNumber).Debug("Skipping empty record")
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					bp.logger.WithFields(logger.Fields{
						"line_number": parseCtx.LineNumber,
						"column":      i,
						"field_size":  len(field),
						"max_size":    bp.config.MaxFieldSize,
					}).Error("Field exceeds maximum size limit")

					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.File,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit of %d bytes exceeded", bp.config.MaxFieldSize),
					)
				}
			}
		}

		parseCtx.RecordCount++
		return record, nil
	}
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func (bp *BaseParser) isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the raw value of a column. A column absent from the
// header yields an empty value; a row shorter than the header is malformed.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, fieldName string) (string, error) {
	index := parseCtx.GetColumnIndex(fieldName)
	if index == -1 {
		return "", nil
	}

	if index >= len(record) {
		bp.logger.WithFields(logger.Fields{
			"field_name":    fieldName,
			"field_index":   index,
			"record_length": len(record),
			"line_number":   parseCtx.LineNumber,
		}).Error("Field index exceeds record length")

		return "", errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			parseCtx.LineNumber,
			fieldName,
			"",
			fmt.Errorf("row has %d fields, header has %d", len(record), len(parseCtx.Headers)),
		).WithSuggestion("check that all rows have the same number of columns as the header")
	}

	return record[index], nil
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string) *ParseStats {
	return &ParseStats{
		File:   file,
		Errors: make([]*ParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging/debugging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}

	return samples
}
