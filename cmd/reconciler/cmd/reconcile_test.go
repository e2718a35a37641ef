package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"vehicle-reconciliation-service/cmd/reconciler/config"
	"vehicle-reconciliation-service/internal/reporter"
	"vehicle-reconciliation-service/internal/store"
	"vehicle-reconciliation-service/pkg/errors"
)

const testEPACSV = `make,model,year,fuelType1,drive,trany,cylinders,displ,city08,city08U,highway08,highway08U,comb08,comb08U
Honda,Civic,2015,Regular Gasoline,Front-Wheel Drive,Automatic (S5),4,1.8,30,0,39,0,33,0
Honda,Civic,2015,Regular Gasoline,Front-Wheel Drive,Automatic (S5),4,1.8,28,0,36,0,31,0
Honda,Accord 2WD,2015,Regular Gasoline,Front-Wheel Drive,Automatic (S5),4,2.4,26,0,35,0,29,0
Toyota,Prius Hybrid,2015,Regular Gasoline,Front-Wheel Drive,Automatic (variable gear ratios),4,1.8,51,0,48,0,50,0
Ford,F150/F250 4WD,2015,Regular Gasoline,4-Wheel Drive,Manual 6-spd,8,5.0,15,0,21,0,17,0
Mazda,3,2015,Regular Gasoline,Front-Wheel Drive,Automatic (S6),4,2.0,30,0,41,0,34,0
`

const testVINCSV = "Results_0_VIN,Results_0_Make,Results_0_Model,Results_0_ModelYear,Results_0_VehicleType," +
	"Results_0_BodyClass,Results_0_ErrorCode,Results_0_Series,Results_0_FuelTypePrimary,Results_0_DriveType," +
	"Results_0_TransmissionStyle,Results_0_TransmissionSpeeds,Results_0_EngineCylinders,Results_0_DisplacementL\n" +
	`1HGCV1,HONDA,Civic,2015,Passenger Car,Sedan/Saloon,0 - VIN decoded clean,LX,Gasoline,FWD/Front Wheel Drive,Automatic,5,4,1.798765
1HGCV2,HONDA,Accord,2015,Passenger Car,Sedan/Saloon,0 - VIN decoded clean,EX,Gasoline,FWD/Front Wheel Drive,Manual/Standard,6,4,2.4
1FTRX1,FORD,F150,2015,Truck,Pickup,0 - VIN decoded clean,XL,Gasoline,4WD/4-Wheel Drive/4x4,Manual/Standard,6,8,5.0
JM1BK1,MAZDA,Mazda3,2015,Passenger Car,Hatchback,0 - VIN decoded clean,,Gasoline,FWD/Front Wheel Drive,Automatic,6,4,2.0
NOMATCH1,BMW,X5,2015,Multipurpose Passenger Vehicle (MPV),Sport Utility Vehicle (SUV),0 - VIN decoded clean,,Gasoline,AWD/All Wheel Drive,Automatic,8,6,3.0
`

const testWeightsCSV = `1HGCV1,20
1HGCV2,15
1FTRX1,100
JM1BK1,11
NOMATCH1,50
`

type testInputs struct {
	epa, vin, weights, outputDir string
}

func writeTestInputs(t *testing.T) testInputs {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"vehicles.csv": testEPACSV,
		"vins.csv":     testVINCSV,
		"counts.csv":   testWeightsCSV,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644), "write %s", name)
	}

	return testInputs{
		epa:       filepath.Join(dir, "vehicles.csv"),
		vin:       filepath.Join(dir, "vins.csv"),
		weights:   filepath.Join(dir, "counts.csv"),
		outputDir: filepath.Join(dir, "out"),
	}
}

// setViper overrides keys for the duration of the test
func setViper(t *testing.T, values map[string]interface{}) {
	t.Helper()
	for key, value := range values {
		key := key
		previous := viper.Get(key)
		viper.Set(key, value)
		t.Cleanup(func() { viper.Set(key, previous) })
	}
}

func inputValues(in testInputs) map[string]interface{} {
	return map[string]interface{}{
		config.KeyEPAFile:     in.epa,
		config.KeyVINFile:     in.vin,
		config.KeyWeightsFile: in.weights,
		config.KeyOutputDir:   in.outputDir,
	}
}

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, &stdout, &stderr
}

func runTestReconcile(t *testing.T) (string, string) {
	t.Helper()
	cmd, stdout, stderr := newTestCommand()

	require.NoError(t, validateReconcileFlags(cmd, nil))
	require.NoError(t, runReconcile(cmd, nil))
	return stdout.String(), stderr.String()
}

func assertConfigurationError(t *testing.T, err error) {
	t.Helper()
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok, "expected a ReconcilerError, got %v", err)
	assert.Equal(t, errors.CategoryConfiguration, reconcilerErr.Category)
}

func TestValidateReconcileFlags(t *testing.T) {
	in := writeTestInputs(t)

	tests := []struct {
		name        string
		overrides   map[string]interface{}
		expectError bool
	}{
		{
			name:        "valid inputs",
			expectError: false,
		},
		{
			name:        "missing EPA file",
			overrides:   map[string]interface{}{config.KeyEPAFile: ""},
			expectError: true,
		},
		{
			name:        "non-existent weights file",
			overrides:   map[string]interface{}{config.KeyWeightsFile: "/non/existent/counts.csv"},
			expectError: true,
		},
		{
			name:        "unsupported output format",
			overrides:   map[string]interface{}{config.KeyOutputFormat: "xml"},
			expectError: true,
		},
		{
			name:        "too many rounds",
			overrides:   map[string]interface{}{config.KeyRounds: 10},
			expectError: true,
		},
		{
			name:        "zero rounds",
			overrides:   map[string]interface{}{config.KeyRounds: 0},
			expectError: true,
		},
		{
			name:        "negative threshold",
			overrides:   map[string]interface{}{config.KeyWeightThreshold: -1},
			expectError: true,
		},
		{
			name:        "reserved SQLite table",
			overrides:   map[string]interface{}{config.KeySQLiteFile: filepath.Join(in.outputDir, "m.db"), config.KeySQLiteTable: store.RunsTable},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setViper(t, inputValues(in))
			setViper(t, tt.overrides)

			cmd, _, _ := newTestCommand()
			err := validateReconcileFlags(cmd, nil)

			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assertConfigurationError(t, err)
		})
	}
}

func TestRunReconcile_ConsoleSummary(t *testing.T) {
	in := writeTestInputs(t)
	setViper(t, inputValues(in))

	stdout, _ := runTestReconcile(t)

	for _, want := range []string{"VEHICLE RECONCILIATION REPORT", "SUMMARY", "MATCH ROUNDS", "Weighted match:"} {
		assert.Contains(t, stdout, want)
	}

	for _, name := range []string{
		reporter.NotMatchedFile,
		reporter.MatchedVINsFile,
		reporter.OuterJoinFile,
		reporter.DuplicateExampleFile,
	} {
		assert.FileExists(t, filepath.Join(in.outputDir, name))
	}

	for _, pattern := range []string{"outer_join_*.csv", "model_merge_sub_*.csv"} {
		matches, err := filepath.Glob(filepath.Join(in.outputDir, pattern))
		require.NoError(t, err)
		assert.Len(t, matches, 1, "exports matching %s", pattern)
	}
}

func TestRunReconcile_JSONSummaryFile(t *testing.T) {
	in := writeTestInputs(t)
	summaryPath := filepath.Join(filepath.Dir(in.epa), "summary.json")
	setViper(t, inputValues(in))
	setViper(t, map[string]interface{}{
		config.KeyOutputFormat: "json",
		config.KeyOutputFile:   summaryPath,
		config.KeyVerbose:      true,
	})

	stdout, stderr := runTestReconcile(t)

	assert.Empty(t, stdout, "summary goes to the file, not stdout")
	assert.Contains(t, stderr, "Reconciliation completed successfully")

	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &summary), "summary is not valid JSON")
	assert.NotEmpty(t, summary["run_id"])
	assert.Contains(t, summary, "summary")
}

func TestRunReconcile_SQLiteExport(t *testing.T) {
	in := writeTestInputs(t)
	dbPath := filepath.Join(in.outputDir, "matches.db")
	setViper(t, inputValues(in))
	setViper(t, map[string]interface{}{config.KeySQLiteFile: dbPath})

	runTestReconcile(t)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var pairs int
	require.NoError(t, db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", store.DefaultTable)).Scan(&pairs))
	// civic matches both civic records
	assert.Equal(t, 5, pairs)

	var runs int
	require.NoError(t, db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", store.RunsTable)).Scan(&runs))
	assert.Equal(t, 1, runs)
}

func TestRunNormalize(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		field       string
		value       string
		vehicleMake string
		want        []string
	}{
		{
			name:        "vin model with brand step",
			source:      "vin",
			field:       "model",
			value:       "Mazda3",
			vehicleMake: "mazda",
			want:        []string{"STEP", "strip_brand_prefix", "model_mod: 3"},
		},
		{
			name:   "epa drive",
			source: "epa",
			field:  "drive",
			value:  "Front-Wheel Drive",
			want:   []string{"drive_mod", "two"},
		},
		{
			name:   "vin cylinders",
			source: "vin",
			field:  "cylinders",
			value:  "4",
			want:   []string{"cylinders_mod", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalizeSource, normalizeField, normalizeValue, normalizeMake = tt.source, tt.field, tt.value, tt.vehicleMake
			cmd, stdout, _ := newTestCommand()

			require.NoError(t, runNormalize(cmd, nil))
			for _, want := range tt.want {
				assert.Contains(t, stdout.String(), want)
			}
		})
	}
}

func TestRunNormalize_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		source string
		field  string
	}{
		{"unknown source", "dmv", "model"},
		{"unknown field", "vin", "color"},
		{"epa-only field on vin", "vin", "trany"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalizeSource, normalizeField, normalizeValue, normalizeMake = tt.source, tt.field, "x", ""
			cmd, _, _ := newTestCommand()

			err := runNormalize(cmd, nil)
			require.Error(t, err)
			assertConfigurationError(t, err)
		})
	}
}

func TestCLIErrorHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"nil error", nil, 0, ""},
		{"file error", errors.FileError(errors.CodeFileNotFound, "/tmp/missing.csv", os.ErrNotExist), 2, "File error help"},
		{"configuration error", errors.ConfigurationError(errors.CodeInvalidConfig, "rounds", 12, fmt.Errorf("rounds out of range")), 5, "Configuration error help"},
		{"export error", errors.ExportError(errors.CodeDatabaseFailed, "matches.db", fmt.Errorf("disk I/O error")), 7, "Export error help"},
		{"generic not found", fmt.Errorf("open x.csv: %w", os.ErrNotExist), 2, "File not found"},
		{"generic error", fmt.Errorf("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			handler := NewCLIErrorHandler()
			handler.out = &out

			assert.Equal(t, tt.wantCode, handler.HandleError(tt.err))
			assert.Contains(t, out.String(), tt.wantText)
		})
	}
}

func TestCommandFlags(t *testing.T) {
	for _, name := range []string{
		config.KeyEPAFile, config.KeyVINFile, config.KeyWeightsFile,
		config.KeyOutputDir, config.KeyOutputFormat, config.KeyOutputFile,
		config.KeySQLiteFile, config.KeySQLiteTable, config.KeyDuplicateExampleVIN,
		config.KeyWeightThreshold, config.KeyRounds, config.KeyMatchUnweighted,
		config.KeyProgress,
	} {
		assert.NotNil(t, reconcileCmd.Flags().Lookup(name), "reconcile flag %s", name)
	}

	for _, name := range []string{config.KeyVerbose, config.KeyLogLevel, config.KeyLogFormat, config.KeyVocabularyFile} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "persistent flag %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	assert.True(t, strings.HasPrefix(out.String(), "reconciler "+version), "unexpected version output %q", out.String())
}
