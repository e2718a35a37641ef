package parsers

import (
	"context"
	"io"
	"strings"

	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// Weight table column names; the file itself has no header row
const (
	WeightVIN    = "VIN"
	WeightCounts = "counts"
)

// WeightEntry is one row of the registration-weight table. Counts is kept as
// read so that the join stage decides what is numeric.
type WeightEntry struct {
	Line   int
	VIN    string
	Counts string
}

// WeightTable is the registration-weight table in file order
type WeightTable struct {
	Entries []WeightEntry
}

// Len returns the number of entries
func (wt *WeightTable) Len() int {
	if wt == nil {
		return 0
	}
	return len(wt.Entries)
}

// WeightParser handles parsing of the registration-weight table
type WeightParser struct {
	config *WeightParserConfig
	logger logger.Logger
}

// NewWeightParser creates a new WeightParser with the given configuration
func NewWeightParser(config *WeightParserConfig) (*WeightParser, error) {
	if config == nil {
		config = DefaultWeightParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"weight_parser_config",
			config,
			err,
		)
	}

	return &WeightParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("weight_parser"),
	}, nil
}

// ParseWeights parses a two-column VIN,count file
func (wp *WeightParser) ParseWeights(ctx context.Context, filePath string) (*WeightTable, *ParseStats, error) {
	wp.logger.WithField("file_path", filePath).Info("Starting weight table parsing")

	pc := DefaultParseConfig()
	pc.Delimiter = wp.config.Delimiter
	pc.HasHeader = wp.config.HasHeader
	base := NewBaseParser(pc)

	input, reader, err := base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer input.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(filePath)

	headers := []string{WeightVIN, WeightCounts}
	if wp.config.HasHeader {
		// a header row is consumed but columns are always taken by position
		if err := base.ReadHeaders(reader, parseCtx, nil, nil); err != nil {
			return nil, stats, err
		}
	}
	parseCtx.Headers = headers
	base.buildHeaderMap(parseCtx)

	table := &WeightTable{Entries: make([]WeightEntry, 0, 1024)}
	for {
		record, err := base.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, stats, err
		}
		stats.RecordsParsed++

		vin, err := base.GetFieldValue(record, parseCtx, WeightVIN)
		if err != nil {
			return nil, stats, err
		}
		counts, err := base.GetFieldValue(record, parseCtx, WeightCounts)
		if err != nil {
			return nil, stats, err
		}

		table.Entries = append(table.Entries, WeightEntry{
			Line:   parseCtx.LineNumber,
			VIN:    strings.ToLower(strings.TrimSpace(vin)),
			Counts: strings.TrimSpace(counts),
		})
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	wp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
	}).Info("Weight table parsing completed")

	return table, stats, nil
}
