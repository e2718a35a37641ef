package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-reconciliation-service/internal/models"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Toyota ", "toyota"},
		{"", models.Missing},
		{"   ", models.Missing},
		{"ＣＩＶＩＣ", "civic"},
		{"Rear-Wheel Drive", "rear-wheel drive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in), "CleanText(%q)", tt.in)
	}
}

func TestCollapseDuplicates(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"audi, audi", "audi"},
		{"toyota, honda", "toyota, honda"},
		{"a, a, a", "a"},
		{"gasoline, gasoline", "gasoline"},
		{"a, b, b", "a, b, b"},
		{"a, a, b", "a, a, b"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseDuplicates(tt.in), "CollapseDuplicates(%q)", tt.in)
	}
}

func TestVocabularyCanonical(t *testing.T) {
	v := DefaultVocabulary()

	assert.Equal(t, "natural gas", v.Canonical(models.SourceVIN, models.FieldFuelType, "compressed natural gas (cng)"))
	assert.Equal(t, "two", v.Canonical(models.SourceVIN, models.FieldDrive, "4x2, rwd/ rear wheel drive"))
	assert.Equal(t, "all", v.Canonical(models.SourceEPA, models.FieldDrive, "part-time 4-wheel drive"))
	assert.Equal(t, "gasoline", v.Canonical(models.SourceEPA, models.FieldFuelType, "premium gasoline"))
	assert.Equal(t, "manu", v.Canonical(models.SourceVIN, models.FieldTransmissionType, "dual-clutch transmission (dct)"))

	// unmapped values pass through
	assert.Equal(t, "diesel", v.Canonical(models.SourceEPA, models.FieldFuelType, "diesel"))

	// fallbacks
	assert.Equal(t, "gasoline", v.Canonical(models.SourceVIN, models.FieldFuelType, models.Missing))
	assert.Equal(t, "two", v.Canonical(models.SourceEPA, models.FieldDrive, models.Missing))
	assert.Equal(t, models.Missing, v.Canonical(models.SourceVIN, models.FieldTransmissionType, models.Missing))
}

func TestVocabularyIsIdempotent(t *testing.T) {
	v := DefaultVocabulary()
	for _, source := range []models.Source{models.SourceEPA, models.SourceVIN} {
		for _, field := range []models.Field{models.FieldFuelType, models.FieldDrive, models.FieldTransmissionType} {
			for _, raw := range []string{"regular gasoline", "4x2", "automatic", models.Missing, "diesel"} {
				once := v.Canonical(source, field, raw)
				assert.Equal(t, once, v.Canonical(source, field, once), "%s/%s %q", source, field, raw)
			}
		}
	}
}

func TestLoadVocabularyFile(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "vocab.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[epa.fuelType1]
"Diesel" = "diesel"
"gasoline or e85" = "gasoline"
`), 0644))

	v, err := LoadVocabularyFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "gasoline", v.Map(models.SourceEPA, models.FieldFuelType, "gasoline or e85"))
	assert.Equal(t, "diesel", v.Map(models.SourceEPA, models.FieldFuelType, "diesel"))
	// defaults survive the merge
	assert.Equal(t, "gasoline", v.Map(models.SourceEPA, models.FieldFuelType, "regular gasoline"))

	yamlPath := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
vin:
  drive:
    "4x4": all
`), 0644))

	v, err = LoadVocabularyFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "all", v.Map(models.SourceVIN, models.FieldDrive, "4x4"))

	badPath := filepath.Join(dir, "vocab.yaml.txt")
	require.NoError(t, os.WriteFile(badPath, []byte("x"), 0644))
	_, err = LoadVocabularyFile(badPath)
	assert.Error(t, err)

	unknownPath := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknownPath, []byte("[ferry.drive]\n\"x\" = \"y\"\n"), 0644))
	_, err = LoadVocabularyFile(unknownPath)
	assert.Error(t, err)

	_, err = LoadVocabularyFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestDisplacement(t *testing.T) {
	tests := []struct {
		in   string
		want models.Optional
	}{
		{"2.0", models.Some("2.0")},
		{"1.998", models.Some("2.0")},
		{"3.25", models.Some("3.3")},
		{"3", models.Some("3.0")},
		{"0", models.Some("0.0")},
		{models.Missing, models.None()},
		{"n/a", models.None()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Displacement(tt.in), "Displacement(%q)", tt.in)
	}
	assert.NotEqual(t, Displacement("0"), Displacement("abc"), "zero must differ from null")
}

func TestTransmissionFields(t *testing.T) {
	assert.Equal(t, models.Some("6"), TransmissionSpeedsFromDescriptor("automatic (s6)"))
	assert.Equal(t, models.Some("5"), TransmissionSpeedsFromDescriptor("manual 5-spd"))
	assert.Equal(t, models.None(), TransmissionSpeedsFromDescriptor("automatic (variable gear ratios)"))
	assert.Equal(t, models.None(), TransmissionSpeedsFromDescriptor(models.Missing))

	assert.Equal(t, models.Some("6"), TransmissionSpeedsFromNumber("6"))
	assert.Equal(t, models.Some("6"), TransmissionSpeedsFromNumber("6.0"))
	assert.Equal(t, models.None(), TransmissionSpeedsFromNumber("6.5"))
	assert.Equal(t, models.None(), TransmissionSpeedsFromNumber(models.Missing))

	assert.Equal(t, models.Some("auto"), TransmissionTypeFromDescriptor("automatic (s6)"))
	assert.Equal(t, models.Some("manu"), TransmissionTypeFromDescriptor("manual 5-spd"))
	assert.Equal(t, models.Some("manu"), TransmissionTypeFromDescriptor(models.Missing))

	assert.Equal(t, "6", Cylinders("6.0"))
	assert.Equal(t, "4", Cylinders("4"))
	assert.Equal(t, models.Missing, Cylinders(models.Missing))
	assert.Equal(t, "rotary", Cylinders("rotary"))
}

func TestModelSteps(t *testing.T) {
	assert.Equal(t, "jcw countryman", RelabelSubmodel("john cooper works countryman"))
	assert.Equal(t, "cooper", RelabelSubmodel("cooper"))
	assert.Equal(t, "civic", FirstToken("  civic hatchback"))
	assert.Equal(t, "tt", DropDecimalSuffix("tt 3.2"))
	assert.Equal(t, "tt3.2", DropDecimalSuffix("tt3.2"))
	assert.Equal(t, "cl", DropDecimalPrefix("3.2cl"))
	assert.Equal(t, "cx5", RemoveSeparators("cx-5"))

	mazda := &models.VehicleRecord{Source: models.SourceVIN, Make: "mazda"}
	assert.Equal(t, "3", StripBrandPrefix(mazda, "mazda3"))
	honda := &models.VehicleRecord{Source: models.SourceVIN, Make: "honda"}
	assert.Equal(t, "mazda3", StripBrandPrefix(honda, "mazda3"))
}

func TestModelPipeline(t *testing.T) {
	p := NewModelPipeline(nil)

	tests := []struct {
		name   string
		record *models.VehicleRecord
		want   string
	}{
		{"vin mazda prefix then first token", &models.VehicleRecord{Source: models.SourceVIN, Make: "mazda", ModelMod: "mazda 3 sport"}, "3"},
		{"epa jcw relabel", &models.VehicleRecord{Source: models.SourceEPA, Make: "mini", ModelMod: "john cooper works countryman"}, "jcw"},
		{"epa decimal prefix", &models.VehicleRecord{Source: models.SourceEPA, Make: "acura", ModelMod: "3.2cl"}, "cl"},
		{"vin keeps decimal prefix", &models.VehicleRecord{Source: models.SourceVIN, Make: "acura", ModelMod: "3.2cl"}, "3.2cl"},
		{"hyphen removed", &models.VehicleRecord{Source: models.SourceEPA, Make: "mazda", ModelMod: "cx-5 2wd"}, "cx5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Apply(tt.record))
		})
	}

	trace := p.Trace(tests[0].record)
	require.Len(t, trace, len(p.StepNames()))
	assert.Equal(t, StepStripBrandPrefix, trace[0].Step)
	assert.Equal(t, " 3 sport", trace[0].Output)
	assert.True(t, trace[1].Skipped, "relabel only applies to epa records")
	assert.Equal(t, "3", trace[len(trace)-1].Output)
}

func TestMissingTransmissionNeverJoins(t *testing.T) {
	epa := &models.VehicleRecord{
		Source: models.SourceEPA, ID: 1, Make: "honda", Model: "civic", ModelMod: "civic", Year: "2015",
		FuelType: models.Missing, Drive: models.Missing, TransmissionType: models.Missing,
		TransmissionSpeeds: models.Missing, Cylinders: models.Missing, Displacement: models.Missing,
		Epa: &models.EpaAttributes{Transmission: models.Missing},
	}
	vin := &models.VehicleRecord{
		Source: models.SourceVIN, ID: 1, Make: "honda", Model: "civic", ModelMod: "civic", Year: "2015",
		FuelType: models.Missing, Drive: models.Missing, TransmissionType: models.Missing,
		TransmissionSpeeds: models.Missing, Cylinders: models.Missing, Displacement: models.Missing,
		Vin: &models.VinAttributes{VIN: "1hgcm", ErrorID: -1},
	}

	n := NewNormalizer(nil, nil)
	ne, nv := n.NormalizeRecord(epa), n.NormalizeRecord(vin)

	assert.Equal(t, models.Some("manu"), ne.Norm.TransmissionType)
	assert.Equal(t, models.None(), nv.Norm.TransmissionType)
	assert.NotEqual(t, ne.Value(models.FieldTransmissionTypeNorm), nv.Value(models.FieldTransmissionTypeNorm))
}

func TestNormalizeTableKeepsCleanedValues(t *testing.T) {
	vin := &models.VehicleRecord{
		Source: models.SourceVIN, ID: 1,
		Make: "honda", Model: "civic", ModelMod: "civic", Year: "2015",
		FuelType: models.Missing, Drive: "4x2", TransmissionType: "automatic",
		TransmissionSpeeds: "5", Cylinders: "4", Displacement: "1.8",
		Vin: &models.VinAttributes{VIN: "1hgcm"},
	}
	epa := &models.VehicleRecord{
		Source: models.SourceEPA, ID: 1,
		Make: "honda", Model: "civic", ModelMod: "civic", Year: "2015",
		FuelType: "regular gasoline", Drive: "front-wheel drive",
		TransmissionType: models.Missing, TransmissionSpeeds: models.Missing,
		Cylinders: "4", Displacement: "1.8",
		Epa: &models.EpaAttributes{Transmission: "automatic 5-spd"},
	}

	n := NewNormalizer(nil, nil)
	vins := n.NormalizeTable(models.NewTable(models.SourceVIN, []*models.VehicleRecord{vin}))
	epas := n.NormalizeTable(models.NewTable(models.SourceEPA, []*models.VehicleRecord{epa}))

	nv, ne := vins.Records[0], epas.Records[0]
	for _, f := range []models.Field{
		models.FieldModelNorm, models.FieldFuelTypeNorm, models.FieldDriveNorm,
		models.FieldDisplacementNorm, models.FieldCylindersNorm,
		models.FieldTransmissionSpeedsNorm, models.FieldTransmissionTypeNorm,
	} {
		assert.Equal(t, ne.Value(f), nv.Value(f), "field %s", f)
	}

	// inputs untouched
	assert.Equal(t, models.Missing, vin.FuelType)
	assert.Empty(t, vin.Norm.FuelType)
	assert.Equal(t, "regular gasoline", ne.FuelType)
}
