// Package reporter turns reconciliation results into reports and exports.
//
// Analyze derives the run metrics (weighted match fraction, duplicate groups,
// unmatched sets) from a ReconciliationResult. The resulting Analysis feeds
// both the human-facing report and the CSV exports.
//
// Supported report formats:
//   - Console: rounded tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: the matched-pair projection
//
// Example usage:
//
//	analysis := reporter.Analyze(result)
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(analysis, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"vehicle-reconciliation-service/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeRounds          bool `json:"include_rounds"`
	IncludeDuplicates      bool `json:"include_duplicates"`
	IncludeUnmatched       bool `json:"include_unmatched"`
	IncludeProcessingStats bool `json:"include_processing_stats"`

	// MaxItems limits list sections of the console report; 0 is unlimited
	MaxItems      int `json:"max_items"`
	TableMaxWidth int `json:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeRounds:          true,
		IncludeDuplicates:      true,
		IncludeUnmatched:       true,
		IncludeProcessingStats: true,
		MaxItems:               10,
		TableMaxWidth:          160,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth != 0 && c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative")
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes the report of an analyzed run to writer
func (rg *ReportGenerator) GenerateReport(analysis *Analysis, writer io.Writer) error {
	if analysis == nil {
		return fmt.Errorf("analysis cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(analysis, writer)
	case FormatJSON:
		return rg.generateJSONReport(analysis, writer)
	case FormatCSV:
		return rg.generateCSVReport(analysis, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func (rg *ReportGenerator) renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if rg.config.TableMaxWidth > 0 {
		tw.SetAllowedRowLength(rg.config.TableMaxWidth)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(a *Analysis, writer io.Writer) error {
	fmt.Fprintf(writer, "VEHICLE RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run:       %s\n", a.RunID)
	fmt.Fprintf(writer, "Completed: %s\n", a.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", a.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintln(writer, rg.summaryTable(a))
	fmt.Fprintf(writer, "\nWeighted match: %s%% of registrations (%d of %d)\n\n",
		a.WeightedPercent().StringFixed(2), a.MatchedCounts, a.TotalCounts)

	if rg.config.IncludeRounds && len(a.Rounds) > 0 {
		fmt.Fprintf(writer, "=== MATCH ROUNDS ===\n")
		fmt.Fprintln(writer, rg.roundsTable(a))
		fmt.Fprintln(writer)
	}

	if rg.config.IncludeDuplicates {
		fmt.Fprintf(writer, "=== DUPLICATE MATCHES ===\n")
		fmt.Fprintf(writer, "VINs with several matches: %d (largest group: %d)\n",
			len(a.DuplicateGroups), a.MaxGroupSize)
		if len(a.DuplicateGroups) > 0 {
			fmt.Fprintln(writer, rg.duplicatesTable(a))
		}
		fmt.Fprintln(writer)
	}

	if rg.config.IncludeUnmatched {
		fmt.Fprintf(writer, "=== UNMATCHED ===\n")
		fmt.Fprintf(writer, "VIN records: %d, EPA records: %d\n", a.UnmatchedVINCount, a.UnmatchedEPACount)
		if len(a.UnmatchedVINs) > 0 {
			fmt.Fprintln(writer, rg.unmatchedTable(a))
		}
		fmt.Fprintln(writer)
	}

	if rg.config.IncludeProcessingStats && a.Stats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		fmt.Fprintln(writer, rg.filterTable(a))
		fmt.Fprintln(writer, rg.stagesTable(a))
	}

	return nil
}

func (rg *ReportGenerator) summaryTable(a *Analysis) string {
	rows := [][]string{
		{"EPA records", strconv.Itoa(a.EPARecords)},
		{"VIN records", strconv.Itoa(a.VINRecords)},
		{"Weighted VIN records", strconv.Itoa(a.WeightedVINs)},
		{"Matched VIN records", strconv.Itoa(a.MatchedVINIDs)},
		{"Matched EPA records", strconv.Itoa(a.MatchedEPAIDs)},
		{"Matched pairs", strconv.Itoa(a.Pairs)},
		{"Matched VINs", strconv.Itoa(a.MatchedVINs)},
	}
	if a.MatchedUnweighted {
		rows = append(rows, []string{"Unweighted VINs matched", "yes"})
	}
	return rg.renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func (rg *ReportGenerator) roundsTable(a *Analysis) string {
	rows := make([][]string, 0, len(a.Rounds))
	for _, r := range a.Rounds {
		rows = append(rows, []string{
			strconv.Itoa(r.Round),
			strconv.Itoa(r.KeyFields),
			strconv.Itoa(r.Candidates),
			strconv.Itoa(r.NewlyMatched),
			strconv.Itoa(r.Pairs),
			strconv.Itoa(r.Cumulative),
		})
	}
	return rg.renderTable(
		[]string{"Round", "Key fields", "Candidates", "Matched", "Pairs", "Cumulative"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func (rg *ReportGenerator) duplicatesTable(a *Analysis) string {
	groups := rg.limit(len(a.DuplicateGroups))
	rows := make([][]string, 0, groups)
	for _, g := range a.DuplicateGroups[:groups] {
		rows = append(rows, []string{
			g.VIN,
			strconv.Itoa(g.Size),
			formatRange(g.City08),
			formatRange(g.Highway08),
			formatRange(g.Comb08),
		})
	}
	rows = rg.appendOverflow(rows, len(a.DuplicateGroups), 5)
	return rg.renderTable(
		[]string{"VIN", "Matches", "City", "Highway", "Combined"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func (rg *ReportGenerator) unmatchedTable(a *Analysis) string {
	// largest registration counts first
	vins := make([]*models.VehicleRecord, len(a.UnmatchedVINs))
	copy(vins, a.UnmatchedVINs)
	sort.SliceStable(vins, func(i, j int) bool {
		ci, _ := a.CountsOf(vins[i].VINString())
		cj, _ := a.CountsOf(vins[j].VINString())
		return ci > cj
	})

	n := rg.limit(len(vins))
	rows := make([][]string, 0, n)
	for _, r := range vins[:n] {
		rows = append(rows, []string{
			r.VINString(),
			r.Make,
			r.Model,
			r.Year,
			a.countsColumn(r),
		})
	}
	rows = rg.appendOverflow(rows, len(vins), 5)
	return rg.renderTable(
		[]string{"VIN", "Make", "Model", "Year", "Counts"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func (rg *ReportGenerator) filterTable(a *Analysis) string {
	rows := make([][]string, 0, 2)
	for _, source := range []models.Source{models.SourceEPA, models.SourceVIN} {
		fs := a.Stats.Filter[source]
		es := a.Stats.Expansion[source]
		if fs == nil || es == nil {
			continue
		}
		rows = append(rows, []string{
			string(source),
			strconv.Itoa(fs.Input),
			strconv.Itoa(fs.TotalDropped()),
			strconv.Itoa(es.Expanded),
			strconv.Itoa(es.Output),
		})
	}
	return rg.renderTable(
		[]string{"Source", "Parsed", "Dropped", "Expanded", "Records"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func (rg *ReportGenerator) stagesTable(a *Analysis) string {
	names := make([]string, 0, len(a.Stats.Stages))
	for name := range a.Stats.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, a.Stats.Stages[name].Round(time.Microsecond).String()})
	}
	return rg.renderTable([]string{"Stage", "Time"}, rows, []columnAlignment{alignLeft, alignRight})
}

func (rg *ReportGenerator) limit(n int) int {
	if rg.config.MaxItems > 0 && n > rg.config.MaxItems {
		return rg.config.MaxItems
	}
	return n
}

func (rg *ReportGenerator) appendOverflow(rows [][]string, total, columns int) [][]string {
	if len(rows) >= total {
		return rows
	}
	more := make([]string, columns)
	more[0] = fmt.Sprintf("... and %d more", total-len(rows))
	return append(rows, more)
}

func formatRange(s Summary) string {
	if s.Count == 0 {
		return "-"
	}
	if s.Min == s.Max {
		return formatFloat(s.Min)
	}
	return formatFloat(s.Min) + "-" + formatFloat(s.Max)
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(a *Analysis, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(rg.filterForOutput(a))
}

// generateCSVReport writes the matched-pair projection
func (rg *ReportGenerator) generateCSVReport(a *Analysis, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	columns, rows := a.MatchProjection()
	if rg.config.CSVHeaders {
		if err := csvWriter.Write(columns); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	if err := csvWriter.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write matched pairs: %w", err)
	}

	return nil
}

// filterForOutput drops the sections the configuration excludes
func (rg *ReportGenerator) filterForOutput(a *Analysis) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":       a.RunID,
		"completed_at": a.CompletedAt,
		"duration":     a.Duration.String(),
		"summary": map[string]interface{}{
			"epa_records":        a.EPARecords,
			"vin_records":        a.VINRecords,
			"weighted_vins":      a.WeightedVINs,
			"matched_unweighted": a.MatchedUnweighted,
			"matched_vin_ids":    a.MatchedVINIDs,
			"matched_epa_ids":    a.MatchedEPAIDs,
			"pairs":              a.Pairs,
			"matched_vins":       a.MatchedVINs,
			"matched_counts":     a.MatchedCounts,
			"total_counts":       a.TotalCounts,
			"weighted_fraction":  a.WeightedFraction,
			"max_group_size":     a.MaxGroupSize,
			"unmatched_vins":     a.UnmatchedVINCount,
			"unmatched_epas":     a.UnmatchedEPACount,
		},
	}

	if rg.config.IncludeRounds {
		output["rounds"] = a.Rounds
	}

	if rg.config.IncludeDuplicates {
		output["duplicate_groups"] = a.DuplicateGroups
	}

	if rg.config.IncludeUnmatched {
		vins := make([]string, 0, len(a.UnmatchedVINs))
		for _, r := range a.UnmatchedVINs {
			vins = append(vins, r.VINString())
		}
		epas := make([]int, 0, len(a.UnmatchedEPAs))
		for _, r := range a.UnmatchedEPAs {
			epas = append(epas, r.ID)
		}
		output["unmatched"] = map[string]interface{}{
			"vins":    vins,
			"epa_ids": epas,
		}
	}

	if rg.config.IncludeProcessingStats && a.Stats != nil {
		output["processing_stats"] = a.Stats
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
