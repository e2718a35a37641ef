package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-reconciliation-service/internal/models"
)

type recordOpt func(*models.VehicleRecord)

func withSpeeds(v models.Optional) recordOpt {
	return func(r *models.VehicleRecord) { r.Norm.TransmissionSpeeds = v }
}

func withType(v models.Optional) recordOpt {
	return func(r *models.VehicleRecord) { r.Norm.TransmissionType = v }
}

func withDispl(v models.Optional) recordOpt {
	return func(r *models.VehicleRecord) { r.Norm.Displacement = v }
}

func withModel(m string) recordOpt {
	return func(r *models.VehicleRecord) { r.Norm.Model = m }
}

func newRecord(source models.Source, id int, opts ...recordOpt) *models.VehicleRecord {
	r := &models.VehicleRecord{
		Source:   source,
		ID:       id,
		Make:     "honda",
		Model:    "civic",
		Year:     "2015",
		ModelMod: "civic",
		Norm: models.Normalized{
			Model:              "civic",
			FuelType:           "gasoline",
			Drive:              "two",
			TransmissionType:   models.Some("auto"),
			TransmissionSpeeds: models.Some("5"),
			Displacement:       models.Some("1.8"),
			Cylinders:          "4",
		},
	}
	if source == models.SourceVIN {
		r.Vin = &models.VinAttributes{VIN: "vin" + string(rune('a'+id))}
	} else {
		r.Epa = &models.EpaAttributes{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func mustEngine(t *testing.T, config *MatchingConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(config)
	require.NoError(t, err)
	return engine
}

func TestProgressiveKeySpecs(t *testing.T) {
	specs := ProgressiveKeySpecs(DefaultKeySequence, DefaultRounds)
	require.Len(t, specs, 5)

	assert.Len(t, specs[0].Fields, 9)
	assert.Len(t, specs[4].Fields, 5)
	assert.Equal(t, []models.Field{
		models.FieldMake, models.FieldModelNorm, models.FieldYear,
		models.FieldFuelTypeNorm, models.FieldDriveNorm,
	}, specs[4].Fields)

	// every key is a prefix of the previous one
	for i := 1; i < len(specs); i++ {
		assert.Equal(t, specs[i-1].Fields[:len(specs[i].Fields)], specs[i].Fields)
	}

	assert.Len(t, ProgressiveKeySpecs(DefaultKeySequence, 20), len(DefaultKeySequence))
}

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(*MatchingConfig) {}, false},
		{"strict", func(c *MatchingConfig) { c.Rounds = 1 }, false},
		{"zero rounds", func(c *MatchingConfig) { c.Rounds = 0 }, true},
		{"too many rounds", func(c *MatchingConfig) { c.Rounds = 10 }, true},
		{"empty sequence", func(c *MatchingConfig) { c.KeySequence = nil }, true},
		{"unknown field", func(c *MatchingConfig) { c.KeySequence[0] = "colour" }, true},
		{"duplicate field", func(c *MatchingConfig) { c.KeySequence[1] = models.FieldMake }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewEngine(&MatchingConfig{KeySequence: DefaultKeySequence, Rounds: 0})
	assert.Error(t, err)
}

func TestMatchingConfigClone(t *testing.T) {
	config := DefaultMatchingConfig()
	clone := config.Clone()
	clone.KeySequence[0] = models.FieldModel
	clone.Rounds = 2

	assert.Equal(t, models.FieldMake, config.KeySequence[0])
	assert.Equal(t, DefaultRounds, config.Rounds)
	assert.Equal(t, models.FieldMake, DefaultKeySequence[0])
}

func TestMatchExactFirstRound(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{newRecord(models.SourceVIN, 1)})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{newRecord(models.SourceEPA, 1)})

	result := mustEngine(t, nil).Match(vins, epas)

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 0, result.Pairs[0].Round)
	assert.Len(t, result.Pairs[0].Key, 9)
	assert.True(t, result.IsVINMatched(1))
	assert.True(t, result.IsEPAMatched(1))
	require.Len(t, result.Rounds, 5)
	assert.Equal(t, 1, result.Rounds[0].NewlyMatched)
	for _, rs := range result.Rounds[1:] {
		assert.Equal(t, 0, rs.Candidates)
		assert.Equal(t, 0, rs.Pairs)
	}
}

func TestMatchRelaxesTrailingFields(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{
		newRecord(models.SourceVIN, 1, withType(models.Some("manu"))),
		newRecord(models.SourceVIN, 2, withSpeeds(models.Some("6")), withType(models.Some("manu"))),
		newRecord(models.SourceVIN, 3, withDispl(models.Some("2.0")), withSpeeds(models.Some("6"))),
	})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{newRecord(models.SourceEPA, 1)})

	result := mustEngine(t, nil).Match(vins, epas)

	rounds := make(map[int]int)
	for _, p := range result.Pairs {
		rounds[p.Vin.ID] = p.Round
	}
	assert.Equal(t, map[int]int{1: 1, 2: 2, 3: 4}, rounds)
	assert.Equal(t, 3, result.MatchedVINCount())
}

func TestMatchFirstRoundWins(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{newRecord(models.SourceVIN, 1)})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{
		newRecord(models.SourceEPA, 1),
		// would only match in round 1 or later
		newRecord(models.SourceEPA, 2, withType(models.Some("manu"))),
	})

	result := mustEngine(t, nil).Match(vins, epas)

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 1, result.Pairs[0].Epa.ID)
	assert.False(t, result.IsEPAMatched(2))
}

func TestMatchOneToMany(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{newRecord(models.SourceVIN, 1)})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{
		newRecord(models.SourceEPA, 1),
		newRecord(models.SourceEPA, 2),
		newRecord(models.SourceEPA, 3, withModel("accord")),
	})

	result := mustEngine(t, nil).Match(vins, epas)

	require.Len(t, result.Pairs, 2)
	assert.Equal(t, 1, result.Pairs[0].Epa.ID)
	assert.Equal(t, 2, result.Pairs[1].Epa.ID)
	assert.Equal(t, 1, result.Rounds[0].NewlyMatched)
	assert.Equal(t, 2, result.Rounds[0].Pairs)
	assert.Equal(t, 2, result.MatchedEPACount())
}

func TestMatchNullsCompareEqual(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{
		newRecord(models.SourceVIN, 1, withDispl(models.None()), withSpeeds(models.None())),
	})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{
		newRecord(models.SourceEPA, 1, withDispl(models.None()), withSpeeds(models.None())),
	})

	result := mustEngine(t, nil).Match(vins, epas)

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 0, result.Pairs[0].Round)
}

func TestMatchNullDoesNotEqualValue(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{
		newRecord(models.SourceVIN, 1, withType(models.None())),
	})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{newRecord(models.SourceEPA, 1)})

	result := mustEngine(t, StrictMatchingConfig()).Match(vins, epas)

	assert.Empty(t, result.Pairs)
	assert.False(t, result.IsVINMatched(1))
}

func TestMatchMonotonicity(t *testing.T) {
	vins := models.NewTable(models.SourceVIN, []*models.VehicleRecord{
		newRecord(models.SourceVIN, 1),
		newRecord(models.SourceVIN, 2, withType(models.Some("manu"))),
		newRecord(models.SourceVIN, 3, withDispl(models.Some("3.5"))),
		newRecord(models.SourceVIN, 4, withModel("fit")),
	})
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{newRecord(models.SourceEPA, 1)})

	previous := 0
	for rounds := 1; rounds <= len(DefaultKeySequence); rounds++ {
		config := DefaultMatchingConfig()
		config.Rounds = rounds
		result := mustEngine(t, config).Match(vins, epas)
		assert.GreaterOrEqual(t, result.MatchedVINCount(), previous, "rounds=%d", rounds)
		previous = result.MatchedVINCount()

		// model_mod is second in the sequence and leaves the key only in the last round
		keepsModel := rounds < len(DefaultKeySequence)
		assert.Equal(t, !keepsModel, result.IsVINMatched(4), "rounds=%d", rounds)
	}
}

func TestMatchEmptyTables(t *testing.T) {
	result := mustEngine(t, nil).Match(models.NewTable(models.SourceVIN, nil), models.NewTable(models.SourceEPA, nil))

	assert.Empty(t, result.Pairs)
	assert.Len(t, result.Rounds, DefaultRounds)
	assert.Equal(t, 0, result.MatchedVINCount())
}

func TestRecordIndex(t *testing.T) {
	epas := models.NewTable(models.SourceEPA, []*models.VehicleRecord{
		newRecord(models.SourceEPA, 1),
		newRecord(models.SourceEPA, 2),
		newRecord(models.SourceEPA, 3, withModel("accord")),
	})
	spec := KeySpec{Fields: []models.Field{models.FieldMake, models.FieldModelNorm}}

	index := NewRecordIndex(epas, spec)

	assert.Equal(t, 3, index.Size())
	assert.Equal(t, 2, index.Keys())
	assert.Equal(t, 2, index.LargestBucket())
	assert.Len(t, index.Lookup(newRecord(models.SourceVIN, 1)), 2)
	assert.Empty(t, index.Lookup(newRecord(models.SourceVIN, 1, withModel("fit"))))
}

func TestKeyOfDistinguishesFieldBoundaries(t *testing.T) {
	a := newRecord(models.SourceVIN, 1)
	a.Make, a.Norm.Model = "ab", "c"
	b := newRecord(models.SourceVIN, 2)
	b.Make, b.Norm.Model = "a", "bc"

	fields := []models.Field{models.FieldMake, models.FieldModelNorm}
	assert.NotEqual(t, KeyOf(a, fields), KeyOf(b, fields))
}
