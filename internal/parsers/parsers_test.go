package parsers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/errors"
)

const epaCSV = `make,model,year,fuelType1,drive,trany,cylinders,displ,city08,city08U,highway08,highway08U,comb08,comb08U,atvType
Honda,Civic 2WD,2015,Regular Gasoline,Front-Wheel Drive,Automatic (S5),4,1.8,30,30.1,39,39.2,33,33.4,
Mazda,CX-5 AWD,2016,Regular Gasoline,All-Wheel Drive,Automatic (S6),4,2.5,,,,,,,
`

const vinCSV = `Results_0_VIN,Results_0_Make,Results_0_Model,Results_0_ModelYear,Results_0_FuelTypePrimary,Results_0_DriveType,Results_0_TransmissionStyle,Results_0_TransmissionSpeeds,Results_0_EngineCylinders,Results_0_DisplacementL,Results_0_VehicleType,Results_0_BodyClass,Results_0_ErrorCode,Results_0_Series,Results_0_Trim
1HGCM82633A,HONDA,Civic,2015,"Gasoline, Gasoline",4x2,Automatic,5,4,1.8,PASSENGER CAR,Sedan/Saloon,0 - VIN decoded clean,EX,LX
JM3KE4DY0G,MAZDA,CX-5,2016,Gasoline,AWD/All Wheel Drive,,,4,2.5,MULTIPURPOSE PASSENGER VEHICLE (MPV),Sport Utility Vehicle (SUV),no code,,
`

// createTempFile writes content into a file named name under a per-test directory
func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newCatalogParser(t *testing.T) *CatalogParser {
	t.Helper()
	parser, err := NewCatalogParser(nil)
	require.NoError(t, err)
	return parser
}

// assertReconcilerError checks the category and code of a ReconcilerError in err's chain
func assertReconcilerError(t *testing.T, err error, category errors.ErrorCategory, code errors.ErrorCode) {
	t.Helper()
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok, "expected a ReconcilerError, got %v", err)
	assert.Equal(t, category, rerr.Category)
	if code != "" {
		assert.Equal(t, code, rerr.Code)
	}
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	assert.True(t, config.HasHeader)
	assert.Equal(t, ',', config.Delimiter)
	assert.True(t, config.SkipEmptyRows)
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    5,
		Column:  3,
		Field:   "ErrorCode",
		Value:   "invalid",
		Message: "invalid format",
	}

	assert.Equal(t, "parse error at line 5, column 3 (ErrorCode='invalid'): invalid format", err.Error())
}

func TestCatalogParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *CatalogParserConfig
		wantErr bool
	}{
		{"default", DefaultCatalogParserConfig(), false},
		{"zero delimiter", &CatalogParserConfig{}, true},
		{"quote delimiter", &CatalogParserConfig{Delimiter: '"'}, true},
		{"empty alias", &CatalogParserConfig{Delimiter: ';', ColumnAliases: map[string]string{"": "make"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVINHeaderRename(t *testing.T) {
	config := DefaultCatalogParserConfig()

	tests := map[string]string{
		"Results_0_Make":              "make",
		"Results_0_ModelYear":         "year",
		"Results_0_DisplacementL":     "displ",
		"Results_0_TransmissionStyle": "transmission_type",
		"Results_0_BodyClass":         "BodyClass",
		"VIN":                         "VIN",
		"Results_0_":                  "Results_0_",
	}
	for in, want := range tests {
		assert.Equal(t, want, config.vinHeaderRename(in), "vinHeaderRename(%q)", in)
	}
}

func TestCatalogParser_ParseEPA(t *testing.T) {
	path := createTempFile(t, "epa.csv", epaCSV)

	table, stats, err := newCatalogParser(t).ParseEPA(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, models.SourceEPA, table.Source)
	require.Equal(t, 2, table.Len())
	assert.EqualValues(t, 2, stats.RecordsValid)

	civic := table.Records[0]
	assert.Equal(t, "honda", civic.Make)
	assert.Equal(t, "civic 2wd", civic.Model)
	assert.Equal(t, "civic 2wd", civic.ModelMod)
	require.NotNil(t, civic.Epa)
	assert.Equal(t, "automatic (s5)", civic.Epa.Transmission)
	assert.Equal(t, 39.2, civic.Epa.Economy.Highway08U)
	assert.Equal(t, models.Missing, civic.TransmissionSpeeds, "speeds are derived during normalization")

	cx5 := table.Records[1]
	assert.Equal(t, float64(-1), cx5.Epa.Economy.City08, "missing economy figure")
}

func TestCatalogParser_ParseVIN(t *testing.T) {
	path := createTempFile(t, "vin.csv", vinCSV)

	table, stats, err := newCatalogParser(t).ParseVIN(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	civic := table.Records[0]
	assert.Equal(t, "gasoline", civic.FuelType, "duplicate phrase collapses")
	require.NotNil(t, civic.Vin)
	assert.Equal(t, "1hgcm82633a", civic.Vin.VIN)
	assert.Equal(t, 0, civic.Vin.ErrorID)
	assert.Equal(t, "automatic", civic.TransmissionType)
	assert.Equal(t, "5", civic.TransmissionSpeeds)
	assert.Equal(t, "1.8", civic.Displacement)

	cx5 := table.Records[1]
	assert.Equal(t, models.Missing, cx5.TransmissionType)
	assert.Equal(t, -1, cx5.Vin.ErrorID, "error code without a number")
	assert.EqualValues(t, 1, stats.ErrorCount, "one recovered cell error")
}

func TestCatalogParser_MissingColumn(t *testing.T) {
	path := createTempFile(t, "vin.csv", "Results_0_VIN,Results_0_Make,Results_0_Model\n1abc,honda,civic\n")

	_, _, err := newCatalogParser(t).ParseVIN(context.Background(), path)
	assertReconcilerError(t, err, errors.CategorySchema, errors.CodeMissingColumn)
}

func TestCatalogParser_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"short row", "make,model,year,displ\nhonda,civic\n"},
		{"bad quoting", "make,model,year\nhonda,\"civic,2015\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTempFile(t, "epa.csv", tt.content)
			_, _, err := newCatalogParser(t).ParseEPA(context.Background(), path)
			assertReconcilerError(t, err, errors.CategoryParse, "")
		})
	}
}

func TestCatalogParser_EmptyFile(t *testing.T) {
	path := createTempFile(t, "epa.csv", "")

	_, _, err := newCatalogParser(t).ParseEPA(context.Background(), path)
	assertReconcilerError(t, err, errors.CategorySchema, errors.CodeEmptyTable)
}

func TestCatalogParser_FileNotFound(t *testing.T) {
	_, _, err := newCatalogParser(t).ParseEPA(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assertReconcilerError(t, err, errors.CategoryFile, errors.CodeFileNotFound)
}

func TestCatalogParser_InvalidEncoding(t *testing.T) {
	path := createTempFile(t, "epa.csv", "make,model,year\nhonda,civ\xffic,2015\n")

	_, _, err := newCatalogParser(t).ParseEPA(context.Background(), path)
	assertReconcilerError(t, err, errors.CategoryParse, errors.CodeEncodingError)
}

func TestCatalogParser_Cancelled(t *testing.T) {
	path := createTempFile(t, "epa.csv", epaCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newCatalogParser(t).ParseEPA(ctx, path)
	assert.Error(t, err)
}

func TestCatalogParser_CompressedInput(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "epa.csv.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(epaCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	zstPath := filepath.Join(dir, "epa.csv.zst")
	f, err = os.Create(zstPath)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(epaCSV))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	parser := newCatalogParser(t)
	for _, path := range []string{gzPath, zstPath} {
		table, _, err := parser.ParseEPA(context.Background(), path)
		require.NoError(t, err, path)
		assert.Equal(t, 2, table.Len(), path)
	}
}

func TestWeightParser_ParseWeights(t *testing.T) {
	path := createTempFile(t, "weights.csv", "1HGCM82633A,20\nJM3KE4DY0G,.\n\nABC,8\n")

	parser, err := NewWeightParser(nil)
	require.NoError(t, err)

	table, stats, err := parser.ParseWeights(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())
	assert.EqualValues(t, 3, stats.RecordsParsed)

	assert.Equal(t, "1hgcm82633a", table.Entries[0].VIN)
	assert.Equal(t, "20", table.Entries[0].Counts)
	assert.Equal(t, ".", table.Entries[1].Counts, "sentinel is kept for the join stage")
	assert.Equal(t, 4, table.Entries[2].Line, "line numbers count the blank line")
}

func TestWeightParser_ShortRow(t *testing.T) {
	path := createTempFile(t, "weights.csv", "1HGCM82633A\n")

	parser, err := NewWeightParser(nil)
	require.NoError(t, err)
	_, _, err = parser.ParseWeights(context.Background(), path)
	assert.Error(t, err, "row without count")
}

func TestParseContext_GetColumnIndex(t *testing.T) {
	parseCtx := NewParseContext(context.Background(), "x.csv")
	parseCtx.Headers = []string{"make", "Model", "year"}
	parseCtx.HeaderMap = map[string]int{"make": 0, "Model": 1, "year": 2}

	tests := []struct {
		name     string
		expected int
	}{
		{"make", 0},
		{"model", 1},
		{"YEAR", 2},
		{"displ", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseCtx.GetColumnIndex(tt.name), "GetColumnIndex(%q)", tt.name)
	}
}
