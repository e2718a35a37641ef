package parsers

import (
	"context"
	"io"
	"regexp"
	"strconv"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/normalize"
	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

var leadingDigits = regexp.MustCompile(`^([0-9]+)`)

// CatalogParser handles parsing of the fuel-economy and VIN decode catalogs
type CatalogParser struct {
	config *CatalogParserConfig
	logger logger.Logger
}

// NewCatalogParser creates a new CatalogParser with the given configuration
func NewCatalogParser(config *CatalogParserConfig) (*CatalogParser, error) {
	if config == nil {
		config = DefaultCatalogParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"catalog_parser_config",
			config,
			err,
		)
	}

	log := logger.GetGlobalLogger().WithComponent("catalog_parser")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"vin_header_prefix": config.VINHeaderPrefix,
	}).Debug("Created catalog parser")

	return &CatalogParser{
		config: config,
		logger: log,
	}, nil
}

// rowReader reads cleaned cells of one catalog row by header name
type rowReader struct {
	base     *BaseParser
	parseCtx *ParseContext
	record   []string
	collapse bool
}

func (rr *rowReader) cell(name string) (string, error) {
	raw, err := rr.base.GetFieldValue(rr.record, rr.parseCtx, name)
	if err != nil {
		return "", err
	}
	v := normalize.CleanText(raw)
	if rr.collapse {
		v = normalize.CollapseDuplicates(v)
	}
	return v, nil
}

// cells reads several columns at once, stopping at the first malformed one
func (rr *rowReader) cells(names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v, err := rr.cell(name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type rowFunc func(rr *rowReader, stats *ParseStats) (*models.VehicleRecord, error)

// parseCatalog drives the shared read loop of both catalogs
func (cp *CatalogParser) parseCatalog(ctx context.Context, source models.Source, filePath string,
	required []string, rename func(string) string, collapse bool, build rowFunc) (*models.Table, *ParseStats, error) {

	cp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"source":    source,
	}).Info("Starting catalog parsing")

	base := NewBaseParser(cp.config.parseConfig())
	input, reader, err := base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer input.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(filePath)

	if err := base.ReadHeaders(reader, parseCtx, required, rename); err != nil {
		return nil, stats, err
	}

	var progress *logger.ProgressTracker
	if cp.config.ReportProgress {
		progress = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "parse_" + source.String(),
			Logger:    cp.logger,
		})
	}

	records := make([]*models.VehicleRecord, 0, 1024)
	rr := &rowReader{base: base, parseCtx: parseCtx, collapse: collapse}
	for {
		record, err := base.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, stats, err
		}
		stats.RecordsParsed++

		rr.record = record
		vr, err := build(rr, stats)
		if err != nil {
			return nil, stats, err
		}
		vr.Source = source
		vr.ModelMod = vr.Model
		records = append(records, vr)
		stats.RecordsValid++

		if progress != nil {
			progress.Increment()
		}
	}
	if progress != nil {
		progress.Complete()
	}

	stats.TotalLines = parseCtx.LineNumber

	cp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"source":         source,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Catalog parsing completed")

	if stats.HasErrors() {
		cp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Recovered from cell errors during parsing")
	}

	return models.NewTable(source, records), stats, nil
}

// ParseEPA parses a fuel-economy catalog file
func (cp *CatalogParser) ParseEPA(ctx context.Context, filePath string) (*models.Table, *ParseStats, error) {
	return cp.parseCatalog(ctx, models.SourceEPA, filePath, RequiredEPAHeaders, cp.config.alias, false,
		func(rr *rowReader, stats *ParseStats) (*models.VehicleRecord, error) {
			v, err := rr.cells(EPAMake, EPAModel, EPAYear, EPAFuelType, EPADrive, EPATrany, EPACylinders, EPADispl,
				EPACity08, EPACity08U, EPAHighway08, EPAHighway08U, EPAComb08, EPAComb08U)
			if err != nil {
				return nil, err
			}

			economy := make([]float64, 6)
			for i, name := range []string{EPACity08, EPACity08U, EPAHighway08, EPAHighway08U, EPAComb08, EPAComb08U} {
				economy[i] = parseEconomy(v[8+i], name, rr.parseCtx, stats)
			}

			return &models.VehicleRecord{
				Make:               v[0],
				Model:              v[1],
				Year:               v[2],
				FuelType:           v[3],
				Drive:              v[4],
				TransmissionType:   models.Missing,
				TransmissionSpeeds: models.Missing,
				Cylinders:          v[6],
				Displacement:       v[7],
				Epa: &models.EpaAttributes{
					Transmission: v[5],
					Economy: models.FuelEconomy{
						City08:     economy[0],
						City08U:    economy[1],
						Highway08:  economy[2],
						Highway08U: economy[3],
						Comb08:     economy[4],
						Comb08U:    economy[5],
					},
				},
			}, nil
		})
}

// ParseVIN parses a VIN decode catalog file. Headers carrying the configured
// prefix are renamed and mechanical-spec columns take EPA naming.
func (cp *CatalogParser) ParseVIN(ctx context.Context, filePath string) (*models.Table, *ParseStats, error) {
	return cp.parseCatalog(ctx, models.SourceVIN, filePath, RequiredVINHeaders, cp.config.vinHeaderRename, cp.config.CollapseVINDuplicates,
		func(rr *rowReader, stats *ParseStats) (*models.VehicleRecord, error) {
			v, err := rr.cells(EPAMake, EPAModel, EPAYear, EPAFuelType, EPADrive, EPATransmissionType,
				EPATransmissionSpeeds, EPACylinders, EPADispl,
				VINNumber, VINVehicleType, VINBodyClass, VINErrorCode, VINSeries)
			if err != nil {
				return nil, err
			}

			return &models.VehicleRecord{
				Make:               v[0],
				Model:              v[1],
				Year:               v[2],
				FuelType:           v[3],
				Drive:              v[4],
				TransmissionType:   v[5],
				TransmissionSpeeds: v[6],
				Cylinders:          v[7],
				Displacement:       v[8],
				Vin: &models.VinAttributes{
					VIN:         v[9],
					VehicleType: v[10],
					BodyClass:   v[11],
					ErrorID:     errorID(v[12], rr.parseCtx, stats),
					Series:      v[13],
				},
			}, nil
		})
}

// errorID extracts the leading integer of a decode error code, "0 - vin decoded
// clean" -> 0. Codes without one yield -1.
func errorID(code string, parseCtx *ParseContext, stats *ParseStats) int {
	if code == models.Missing {
		return -1
	}
	m := leadingDigits.FindStringSubmatch(code)
	if m == nil {
		stats.AddError(&ParseError{
			Line:    parseCtx.LineNumber,
			Column:  parseCtx.GetColumnIndex(VINErrorCode),
			Field:   VINErrorCode,
			Value:   code,
			Message: "error code has no leading number",
		})
		return -1
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return id
}

func parseEconomy(value, field string, parseCtx *ParseContext, stats *ParseStats) float64 {
	if value == models.Missing {
		return -1
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		stats.AddError(&ParseError{
			Line:    parseCtx.LineNumber,
			Column:  parseCtx.GetColumnIndex(field),
			Field:   field,
			Value:   value,
			Message: "invalid fuel economy figure",
			Err:     err,
		})
		return -1
	}
	return f
}
