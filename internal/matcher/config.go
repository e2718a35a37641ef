// Package matcher links VIN catalog records to fuel-economy catalog records.
//
// Matching is a progressive equi-join. An ordered key sequence lists the join
// fields from most to least specific. Round i joins on the sequence with its
// last i fields dropped, so early rounds demand agreement on everything and
// later rounds tolerate drift in the least reliable fields (transmission,
// cylinders, displacement).
//
// A VIN record that matches at some round is never tried again at a coarser
// round, but it keeps every fuel-economy record it matched at that round: the
// engine performs no tie-breaking.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.Rounds = 3
//
//	engine, err := matcher.NewEngine(config)
//	result := engine.Match(vins, epas)
//	fmt.Println(result.MatchedVINs.GetCardinality())
package matcher

import (
	"fmt"
	"strings"

	"vehicle-reconciliation-service/internal/models"
)

// DefaultKeySequence is the full join key, most specific field first
var DefaultKeySequence = []models.Field{
	models.FieldMake,
	models.FieldModelNorm,
	models.FieldYear,
	models.FieldFuelTypeNorm,
	models.FieldDriveNorm,
	models.FieldDisplacementNorm,
	models.FieldCylindersNorm,
	models.FieldTransmissionSpeedsNorm,
	models.FieldTransmissionTypeNorm,
}

// DefaultRounds keeps make, model, year, fuel and drive in the coarsest key
const DefaultRounds = 5

// KeySpec is the field subset used by one matching round
type KeySpec struct {
	Name   string         `json:"name"`
	Fields []models.Field `json:"fields"`
}

// String returns the fields joined by "+"
func (ks KeySpec) String() string {
	names := make([]string, len(ks.Fields))
	for i, f := range ks.Fields {
		names[i] = string(f)
	}
	return strings.Join(names, "+")
}

// ProgressiveKeySpecs returns one KeySpec per round; round i uses sequence
// minus its last i fields.
func ProgressiveKeySpecs(sequence []models.Field, rounds int) []KeySpec {
	if rounds > len(sequence) {
		rounds = len(sequence)
	}
	specs := make([]KeySpec, 0, rounds)
	for i := 0; i < rounds; i++ {
		fields := make([]models.Field, len(sequence)-i)
		copy(fields, sequence[:len(sequence)-i])
		specs = append(specs, KeySpec{
			Name:   fmt.Sprintf("round_%d", i),
			Fields: fields,
		})
	}
	return specs
}

// MatchingConfig holds the configuration of the progressive matcher.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig: 9-field key relaxed over 5 rounds
//   - StrictMatchingConfig: a single exact round on the full key
type MatchingConfig struct {
	KeySequence []models.Field `json:"key_sequence"`
	Rounds      int            `json:"rounds"`
}

// DefaultMatchingConfig returns the standard progressive configuration
func DefaultMatchingConfig() *MatchingConfig {
	sequence := make([]models.Field, len(DefaultKeySequence))
	copy(sequence, DefaultKeySequence)
	return &MatchingConfig{
		KeySequence: sequence,
		Rounds:      DefaultRounds,
	}
}

// StrictMatchingConfig only accepts agreement on the full key
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.Rounds = 1
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if len(mc.KeySequence) == 0 {
		return fmt.Errorf("key sequence cannot be empty")
	}

	if mc.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", mc.Rounds)
	}

	if mc.Rounds > len(mc.KeySequence) {
		return fmt.Errorf("rounds (%d) cannot exceed key sequence length (%d)", mc.Rounds, len(mc.KeySequence))
	}

	seen := make(map[models.Field]bool, len(mc.KeySequence))
	for _, f := range mc.KeySequence {
		if _, err := models.ParseField(string(f)); err != nil {
			return err
		}
		if seen[f] {
			return fmt.Errorf("duplicate key field: %s", f)
		}
		seen[f] = true
	}

	return nil
}

// KeySpecs returns the per-round key specifications
func (mc *MatchingConfig) KeySpecs() []KeySpec {
	return ProgressiveKeySpecs(mc.KeySequence, mc.Rounds)
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	sequence := make([]models.Field, len(mc.KeySequence))
	copy(sequence, mc.KeySequence)
	return &MatchingConfig{KeySequence: sequence, Rounds: mc.Rounds}
}

// String returns a human-readable representation of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Rounds: %d, KeySequence: %s}",
		mc.Rounds, KeySpec{Fields: mc.KeySequence})
}
