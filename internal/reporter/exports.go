package reporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"vehicle-reconciliation-service/internal/matcher"
	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// Export file names
const (
	NotMatchedFile       = "not_matched.csv"
	MatchedVINsFile      = "matched_vins.csv"
	OuterJoinFile        = "outer_join.csv"
	DuplicateExampleFile = "duplicate_example.csv"
	LockFile             = ".reconciler.lock"

	timestampedJoinPrefix = "outer_join"
	keySubsetPrefix       = "model_merge_sub"
)

// Column names shared by both catalogs
var sharedColumns = []models.Field{
	models.FieldMake,
	models.FieldModel,
	models.FieldYear,
	models.FieldFuelType,
	models.FieldDrive,
	models.FieldTransmissionType,
	models.FieldTransmissionSpeeds,
	models.FieldCylinders,
	models.FieldDisplacement,
	models.FieldModelNorm,
	models.FieldFuelTypeNorm,
	models.FieldDriveNorm,
	models.FieldDisplacementNorm,
	models.FieldCylindersNorm,
	models.FieldTransmissionSpeedsNorm,
	models.FieldTransmissionTypeNorm,
}

// Source-specific column names
const (
	ColVINID      = "VIN_ID"
	ColEPAID      = "EPA_ID"
	ColVIN        = "VIN"
	ColCounts     = "counts"
	ColVehicle    = "VehicleType"
	ColBodyClass  = "BodyClass"
	ColSeries     = "Series"
	ColErrorID    = "error_id"
	ColTrany      = "trany"
	ColCity08     = "city08"
	ColCity08U    = "city08U"
	ColHighway08  = "highway08"
	ColHighway08U = "highway08U"
	ColComb08     = "comb08"
	ColComb08U    = "comb08U"
	ColMatchRound = "match_round"
)

var vinOnlyColumns = []string{ColVINID, ColVIN, ColCounts, ColVehicle, ColBodyClass, ColSeries, ColErrorID}

var epaOnlyColumns = []string{ColEPAID, ColTrany, ColCity08, ColCity08U, ColHighway08, ColHighway08U, ColComb08, ColComb08U}

// NotMatchedColumns is the fixed projection of the unmatched report
var NotMatchedColumns = []string{
	"make", "model_mod", "model", "year", "fuelType1_mod", "drive_mod", "displ_mod",
	"cylinders", "cylinders_mod", "transmission_speeds_mod", "transmission_type_mod",
	ColEPAID, ColVINID, ColVIN, ColCounts, ColBodyClass, ColVehicle, ColSeries,
}

// projectionSuffixed lists the raw fields exported for both sides of a pair
var projectionSuffixed = []models.Field{
	models.FieldModel,
	models.FieldFuelType,
	models.FieldDrive,
	models.FieldDisplacement,
}

// MatchProjectionColumns returns the minimal matched-join projection: the
// full join key, raw fields of each side, then the IDs and counts
func MatchProjectionColumns() []string {
	cols := make([]string, 0, len(matcher.DefaultKeySequence)+2*len(projectionSuffixed)+3)
	for _, f := range matcher.DefaultKeySequence {
		cols = append(cols, string(f))
	}
	for _, suffix := range []string{"_x", "_y"} {
		for _, f := range projectionSuffixed {
			cols = append(cols, string(f)+suffix)
		}
	}
	return append(cols, ColVINID, ColEPAID, ColCounts)
}

// row is one output line keyed by column name
type row map[string]string

func (r row) values(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// exportValue renders a field for output; null normalized values are empty
func exportValue(r *models.VehicleRecord, f models.Field) string {
	switch f {
	case models.FieldDisplacementNorm:
		return r.Norm.Displacement.String()
	case models.FieldTransmissionSpeedsNorm:
		return r.Norm.TransmissionSpeeds.String()
	case models.FieldTransmissionTypeNorm:
		return r.Norm.TransmissionType.String()
	}
	return r.Value(f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (a *Analysis) countsColumn(r *models.VehicleRecord) string {
	if n, ok := a.CountsOf(r.VINString()); ok {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

// recordRow renders a record; shared columns get suffix
func (a *Analysis) recordRow(r *models.VehicleRecord, suffix string) row {
	out := make(row, len(sharedColumns)+len(epaOnlyColumns))
	for _, f := range sharedColumns {
		out[string(f)+suffix] = exportValue(r, f)
	}

	if r.Vin != nil {
		out[ColVINID] = strconv.Itoa(r.ID)
		out[ColVIN] = r.Vin.VIN
		out[ColCounts] = a.countsColumn(r)
		out[ColVehicle] = r.Vin.VehicleType
		out[ColBodyClass] = r.Vin.BodyClass
		out[ColSeries] = r.Vin.Series
		out[ColErrorID] = strconv.Itoa(r.Vin.ErrorID)
	}

	if r.Epa != nil {
		e := r.Epa.Economy
		out[ColEPAID] = strconv.Itoa(r.ID)
		out[ColTrany] = r.Epa.Transmission
		out[ColCity08] = formatFloat(e.City08)
		out[ColCity08U] = formatFloat(e.City08U)
		out[ColHighway08] = formatFloat(e.Highway08)
		out[ColHighway08U] = formatFloat(e.Highway08U)
		out[ColComb08] = formatFloat(e.Comb08)
		out[ColComb08U] = formatFloat(e.Comb08U)
	}

	return out
}

// pairRow renders a VIN record and its (optional) EPA match side by side
func (a *Analysis) pairRow(vin *models.VehicleRecord, pair *models.MatchedPair) row {
	out := a.recordRow(vin, "_x")
	if pair != nil {
		for k, v := range a.recordRow(pair.Epa, "_y") {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
		out[ColMatchRound] = strconv.Itoa(pair.Round)
	}
	return out
}

// pairColumns is the column order of VIN-with-match rows
func pairColumns() []string {
	cols := make([]string, 0, 2*len(sharedColumns)+len(vinOnlyColumns)+len(epaOnlyColumns)+1)
	cols = append(cols, ColVINID, ColEPAID, ColMatchRound)
	for _, f := range sharedColumns {
		cols = append(cols, string(f)+"_x")
	}
	for _, f := range sharedColumns {
		cols = append(cols, string(f)+"_y")
	}
	cols = append(cols, vinOnlyColumns[1:]...)
	return append(cols, epaOnlyColumns[1:]...)
}

// MatchProjection returns the minimal projection of every matched pair
func (a *Analysis) MatchProjection() ([]string, [][]string) {
	columns := MatchProjectionColumns()
	rows := make([][]string, 0, len(a.result.Match.Pairs))
	for _, p := range a.result.Match.Pairs {
		r := make(row, len(columns))
		for _, f := range matcher.DefaultKeySequence {
			r[string(f)] = exportValue(p.Vin, f)
		}
		for _, f := range projectionSuffixed {
			r[string(f)+"_x"] = exportValue(p.Vin, f)
			r[string(f)+"_y"] = exportValue(p.Epa, f)
		}
		r[ColVINID] = strconv.Itoa(p.Vin.ID)
		r[ColEPAID] = strconv.Itoa(p.Epa.ID)
		r[ColCounts] = a.countsColumn(p.Vin)
		rows = append(rows, r.values(columns))
	}
	return columns, rows
}

// ExportConfig holds configuration options for the CSV exports
type ExportConfig struct {
	OutputDir string `json:"output_dir"`
	Delimiter rune   `json:"delimiter"`
	// DuplicateExampleVINID selects the VIN of duplicate_example.csv;
	// 0 picks the first VIN with the largest fan-out
	DuplicateExampleVINID int `json:"duplicate_example_vin_id"`
}

// DefaultExportConfig returns the default export configuration
func DefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		OutputDir: ".",
		Delimiter: ',',
	}
}

// Validate validates the export configuration
func (c *ExportConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.DuplicateExampleVINID < 0 {
		return fmt.Errorf("duplicate example VIN ID cannot be negative")
	}
	return nil
}

// ExportManifest lists the files written by an export
type ExportManifest struct {
	OutputDir string            `json:"output_dir"`
	Files     map[string]int    `json:"files"`
	Paths     map[string]string `json:"-"`
}

func (m *ExportManifest) add(name, path string, rows int) {
	m.Files[name] = rows
	m.Paths[name] = path
}

// Exporter writes the analysis tables as CSV files
type Exporter struct {
	config *ExportConfig
	logger logger.Logger
}

// NewExporter creates a new CSV exporter
func NewExporter(config *ExportConfig) (*Exporter, error) {
	if config == nil {
		config = DefaultExportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "export", config, err)
	}
	return &Exporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("exporter"),
	}, nil
}

// TimestampedName embeds the run's completion date and time in a file name
func TimestampedName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", prefix, at.Format("2006-01-02"), at.Format("15-04-05"))
}

// Export writes every report file into the output directory. The directory
// is locked for the duration so concurrent runs cannot interleave files.
func (e *Exporter) Export(a *Analysis) (*ExportManifest, error) {
	dir := e.config.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.FileError(errors.CodeDirectoryError, dir, err)
	}

	lock := flock.New(filepath.Join(dir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.FileError(errors.CodeFileLocked, dir, err)
	}
	if !locked {
		return nil, errors.FileError(errors.CodeFileLocked, dir, fmt.Errorf("output directory is in use by another run"))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			e.logger.WithError(err).Warn("Failed to release output directory lock")
		}
	}()

	manifest := &ExportManifest{
		OutputDir: dir,
		Files:     make(map[string]int),
		Paths:     make(map[string]string),
	}

	exports := []struct {
		name  string
		build func() ([]string, [][]string)
	}{
		{NotMatchedFile, a.notMatchedTable},
		{MatchedVINsFile, a.matchedVINsTable},
		{OuterJoinFile, a.outerJoinTable},
		{DuplicateExampleFile, func() ([]string, [][]string) {
			return a.duplicateExampleTable(e.config.DuplicateExampleVINID)
		}},
		{TimestampedName(timestampedJoinPrefix, a.CompletedAt), a.MatchProjection},
		{TimestampedName(keySubsetPrefix, a.CompletedAt), a.keySubsetTable},
	}

	for _, export := range exports {
		columns, rows := export.build()
		path := filepath.Join(dir, export.name)
		if err := e.writeCSV(path, columns, rows); err != nil {
			return manifest, err
		}
		manifest.add(export.name, path, len(rows))
		e.logger.WithFields(logger.Fields{
			"file": path,
			"rows": len(rows),
		}).Info("Wrote export")
	}

	return manifest, nil
}

func (e *Exporter) writeCSV(path string, columns []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.ExportError(errors.CodeWriteFailed, path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Comma = e.config.Delimiter
	if err := w.Write(columns); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, path, err)
	}

	if err := file.Sync(); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, path, err)
	}
	return nil
}

// notMatchedTable unions unmatched EPA then VIN records
func (a *Analysis) notMatchedTable() ([]string, [][]string) {
	rows := make([][]string, 0, len(a.UnmatchedEPAs)+len(a.UnmatchedVINs))
	for _, records := range [][]*models.VehicleRecord{a.UnmatchedEPAs, a.UnmatchedVINs} {
		for _, r := range records {
			rows = append(rows, a.recordRow(r, "").values(NotMatchedColumns))
		}
	}
	return NotMatchedColumns, rows
}

// firstPairByVINID indexes the first (best-round) pair of every VIN record
func (a *Analysis) firstPairByVINID() map[int]*models.MatchedPair {
	index := make(map[int]*models.MatchedPair, len(a.result.Match.Pairs))
	for _, p := range a.result.Match.Pairs {
		if _, ok := index[p.Vin.ID]; !ok {
			index[p.Vin.ID] = p
		}
	}
	return index
}

// matchedVINsTable left-joins every VIN record with its best match
func (a *Analysis) matchedVINsTable() ([]string, [][]string) {
	columns := pairColumns()
	best := a.firstPairByVINID()

	rows := make([][]string, 0, a.result.VINs.Len())
	for _, vin := range a.result.VINs.Records {
		rows = append(rows, a.pairRow(vin, best[vin.ID]).values(columns))
	}
	return columns, rows
}

// outerJoinTable extends matched_vins with the EPA records no VIN matched.
// Columns are sorted by name.
func (a *Analysis) outerJoinTable() ([]string, [][]string) {
	best := a.firstPairByVINID()
	used := make(map[int]bool, len(best))

	lines := make([]row, 0, a.result.VINs.Len()+a.result.EPA.Len())
	for _, vin := range a.result.VINs.Records {
		pair := best[vin.ID]
		if pair != nil {
			used[pair.Epa.ID] = true
		}
		lines = append(lines, a.pairRow(vin, pair))
	}
	for _, epa := range a.result.EPA.Records {
		if !used[epa.ID] {
			lines = append(lines, a.recordRow(epa, "_y"))
		}
	}

	columns := pairColumns()
	sort.Strings(columns)

	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = l.values(columns)
	}
	return columns, rows
}

// duplicateExampleTable lists every match of one VIN record
func (a *Analysis) duplicateExampleTable(vinID int) ([]string, [][]string) {
	columns := pairColumns()
	if vinID == 0 && len(a.DuplicateGroups) > 0 {
		vinID = a.DuplicateGroups[0].VINID
	}

	rows := make([][]string, 0)
	if vinID == 0 {
		return columns, rows
	}
	for _, p := range a.result.Match.Pairs {
		if p.Vin.ID == vinID {
			rows = append(rows, a.pairRow(p.Vin, p).values(columns))
		}
	}
	return columns, rows
}

// keySubsetTable outer-joins the distinct full-key tuples of the matched VIN
// table and the EPA table, each side numbered in order of first appearance
func (a *Analysis) keySubsetTable() ([]string, [][]string) {
	vins := a.result.WeightedVINs
	if a.result.MatchedUnweighted {
		vins = a.result.VINs
	}

	key := matcher.DefaultKeySequence
	columns := make([]string, 0, len(key)+2)
	for _, f := range key {
		columns = append(columns, string(f))
	}
	columns = append(columns, ColVINID, ColEPAID)

	type tuple struct {
		key    string
		values []string
		id     int
	}
	distinct := func(t *models.Table) ([]tuple, map[string]int) {
		order := make([]tuple, 0)
		index := make(map[string]int)
		for _, r := range t.Records {
			k := matcher.KeyOf(r, key)
			if _, ok := index[k]; ok {
				continue
			}
			values := make([]string, len(key))
			for i, f := range key {
				values[i] = exportValue(r, f)
			}
			index[k] = len(order) + 1
			order = append(order, tuple{key: k, values: values, id: len(order) + 1})
		}
		return order, index
	}

	vinTuples, vinIndex := distinct(vins)
	epaTuples, epaIndex := distinct(a.result.EPA)

	rows := make([][]string, 0, len(vinTuples)+len(epaTuples))
	for _, t := range vinTuples {
		epaID := ""
		if id, ok := epaIndex[t.key]; ok {
			epaID = strconv.Itoa(id)
		}
		rows = append(rows, append(append([]string{}, t.values...), strconv.Itoa(t.id), epaID))
	}
	for _, t := range epaTuples {
		if _, ok := vinIndex[t.key]; ok {
			continue
		}
		rows = append(rows, append(append([]string{}, t.values...), "", strconv.Itoa(t.id)))
	}

	return columns, rows
}
