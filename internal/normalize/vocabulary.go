package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/errors"
)

// Canonical labels produced by the default vocabulary
const (
	FuelGasoline   = "gasoline"
	FuelNaturalGas = "natural gas"
	DriveTwo       = "two"
	DriveAll       = "all"
	TransAuto      = "auto"
	TransManual    = "manu"
)

// Mapping is a raw value -> canonical label table for one field
type Mapping map[string]string

// VocabularySpec is the on-disk shape of a vocabulary override file:
// source -> field -> raw -> canonical.
type VocabularySpec map[string]map[string]map[string]string

// Vocabulary remaps raw categorical values per (source, field). Values with
// no entry pass through unchanged.
type Vocabulary struct {
	mappings  map[models.Source]map[models.Field]Mapping
	fallbacks map[models.Field]string
}

// DefaultVocabulary returns the built-in mappings
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		mappings: map[models.Source]map[models.Field]Mapping{
			models.SourceVIN: {
				models.FieldFuelType: {
					"compressed natural gas (cng)":             FuelNaturalGas,
					"liquefied petroleum gas (propane or lpg)": FuelNaturalGas,
					"liquefied natural gas (lng)":              FuelNaturalGas,
				},
				models.FieldDrive: {
					"4x2":                        DriveTwo,
					"6x6":                        DriveAll,
					"6x2":                        DriveTwo,
					"8x2":                        DriveTwo,
					"rwd/ rear wheel drive":      DriveTwo,
					"fwd/front wheel drive":      DriveTwo,
					"4x2, rwd/ rear wheel drive": DriveTwo,
					"4x2, fwd/front wheel drive": DriveTwo,
					"rwd/ rear wheel drive, 4x2": DriveTwo,
					"fwd/front wheel drive, 4x2": DriveTwo,
					"4wd/4-wheel drive/4x4":      DriveAll,
					"awd/all wheel drive":        DriveAll,
				},
				models.FieldTransmissionType: {
					"manual/standard":                                     TransManual,
					"automated manual transmission (amt)":                 TransManual,
					"manual/standard, manual/standard":                    TransManual,
					"dual-clutch transmission (dct)":                      TransManual,
					"continuously variable transmission (cvt)":            TransAuto,
					"automatic":                                           TransAuto,
					"automatic, continuously variable transmission (cvt)": TransAuto,
				},
			},
			models.SourceEPA: {
				models.FieldFuelType: {
					"regular gasoline":  FuelGasoline,
					"premium gasoline":  FuelGasoline,
					"midgrade gasoline": FuelGasoline,
				},
				models.FieldDrive: {
					"rear-wheel drive":           DriveTwo,
					"front-wheel drive":          DriveTwo,
					"2-wheel drive":              DriveTwo,
					"all-wheel drive":            DriveAll,
					"4-wheel drive":              DriveAll,
					"4-wheel or all-wheel drive": DriveAll,
					"part-time 4-wheel drive":    DriveAll,
				},
			},
		},
		fallbacks: map[models.Field]string{
			models.FieldFuelType: FuelGasoline,
			models.FieldDrive:    DriveTwo,
		},
	}
}

// Map returns the canonical label for value, or value itself when unmapped
func (v *Vocabulary) Map(source models.Source, field models.Field, value string) string {
	if mapped, ok := v.mappings[source][field][value]; ok {
		return mapped
	}
	return value
}

// Fallback replaces the missing sentinel with the field's default label.
// Fields without a fallback keep the sentinel.
func (v *Vocabulary) Fallback(field models.Field, value string) string {
	if value != models.Missing {
		return value
	}
	if fb, ok := v.fallbacks[field]; ok {
		return fb
	}
	return value
}

// Canonical applies Map followed by Fallback
func (v *Vocabulary) Canonical(source models.Source, field models.Field, value string) string {
	return v.Fallback(field, v.Map(source, field, value))
}

// Size returns the number of mapping entries for (source, field)
func (v *Vocabulary) Size(source models.Source, field models.Field) int {
	return len(v.mappings[source][field])
}

// Merge adds or replaces entries from spec. Raw keys are cleaned the same way
// catalog cells are, so override files may use any casing.
func (v *Vocabulary) Merge(spec VocabularySpec) error {
	for sourceName, fields := range spec {
		source := models.Source(strings.ToLower(strings.TrimSpace(sourceName)))
		if !source.IsValid() {
			return fmt.Errorf("unknown source %q in vocabulary", sourceName)
		}
		for fieldName, entries := range fields {
			field, err := models.ParseField(fieldName)
			if err != nil {
				return err
			}
			if v.mappings[source] == nil {
				v.mappings[source] = make(map[models.Field]Mapping)
			}
			if v.mappings[source][field] == nil {
				v.mappings[source][field] = make(Mapping)
			}
			for raw, canonical := range entries {
				v.mappings[source][field][CleanText(raw)] = CleanText(canonical)
			}
		}
	}
	return nil
}

// LoadVocabularyFile returns the default vocabulary merged with the overrides
// in path. The format is chosen by extension: .toml, .yaml or .yml.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	var spec VocabularySpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &spec)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "vocabulary-file", path,
			fmt.Errorf("unsupported vocabulary format %q", filepath.Ext(path))).
			WithSuggestion("use a .toml, .yaml or .yml file")
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "vocabulary", "", err)
	}

	vocab := DefaultVocabulary()
	if err := vocab.Merge(spec); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "vocabulary-file", path, err)
	}
	return vocab, nil
}
