// Package models defines the vehicle records exchanged between pipeline stages.
//
// Both catalogs are projected onto one schema, VehicleRecord, named after the
// fuel-economy catalog columns. Source-specific attributes live in the Vin and
// Epa sub-structs; exactly one of them is set.
package models

import (
	"fmt"
	"strings"
)

// Missing is the sentinel stored for absent cell values. It never equals a
// real catalog value and is distinct from blank-but-present data.
const Missing = "-1"

// NullKey is the join-key token of a normalized field that failed to parse.
const NullKey = "\x00null"

// Source identifies which catalog a record came from
type Source string

const (
	// SourceEPA is the fuel-economy catalog
	SourceEPA Source = "epa"
	// SourceVIN is the VIN decode catalog
	SourceVIN Source = "vin"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is known
func (s Source) IsValid() bool {
	return s == SourceEPA || s == SourceVIN
}

// Optional is a normalized value that may be null after a failed coercion
type Optional struct {
	Value string
	Valid bool
}

// Some returns a valid Optional
func Some(v string) Optional {
	return Optional{Value: v, Valid: true}
}

// None returns a null Optional
func None() Optional {
	return Optional{}
}

// Key returns the value used for join equality; nulls share NullKey
func (o Optional) Key() string {
	if !o.Valid {
		return NullKey
	}
	return o.Value
}

// String returns the value, or an empty string for null
func (o Optional) String() string {
	if !o.Valid {
		return ""
	}
	return o.Value
}

// FuelEconomy holds the EPA miles-per-gallon figures
type FuelEconomy struct {
	City08     float64
	City08U    float64
	Highway08  float64
	Highway08U float64
	Comb08     float64
	Comb08U    float64
}

// EpaAttributes are carried only by fuel-economy catalog records
type EpaAttributes struct {
	// Transmission is the free-text descriptor, e.g. "automatic (s6)"
	Transmission string
	Economy      FuelEconomy
}

// VinAttributes are carried only by VIN catalog records
type VinAttributes struct {
	VIN         string
	VehicleType string
	BodyClass   string
	Series      string
	ErrorID     int
	// Counts is the registration weight; nil until the weight join succeeds
	Counts *int64
}

// Normalized holds the canonical values used for matching only
type Normalized struct {
	Model              string
	FuelType           string
	Drive              string
	TransmissionType   Optional
	TransmissionSpeeds Optional
	Displacement       Optional
	Cylinders          string
}

// VehicleRecord is one row of either catalog after projection
type VehicleRecord struct {
	Source Source
	// ID is dense 1..N per source, assigned after filtering and expansion
	ID int

	// Cleaned values (lowercased, trimmed, Missing when absent)
	Make               string
	Model              string
	Year               string
	FuelType           string
	Drive              string
	TransmissionType   string
	TransmissionSpeeds string
	Cylinders          string
	Displacement       string

	// ModelMod is the working model string; filtering and expansion write here
	ModelMod string

	Norm Normalized

	Epa *EpaAttributes
	Vin *VinAttributes
}

// Clone returns a deep copy so stages never share mutable state
func (r *VehicleRecord) Clone() *VehicleRecord {
	c := *r
	if r.Epa != nil {
		epa := *r.Epa
		c.Epa = &epa
	}
	if r.Vin != nil {
		vin := *r.Vin
		if r.Vin.Counts != nil {
			counts := *r.Vin.Counts
			vin.Counts = &counts
		}
		c.Vin = &vin
	}
	return &c
}

// HasEssentials reports whether make, model and year are all present
func (r *VehicleRecord) HasEssentials() bool {
	return r.Make != Missing && r.Model != Missing && r.Year != Missing
}

// VINString returns the VIN of a VIN record, or an empty string
func (r *VehicleRecord) VINString() string {
	if r.Vin == nil {
		return ""
	}
	return r.Vin.VIN
}

// String returns a compact description for logging
func (r *VehicleRecord) String() string {
	return fmt.Sprintf("%s#%d{%s %s %s}", r.Source, r.ID, r.Make, r.Model, r.Year)
}

// Table is an ordered collection of records from one source. Stages treat a
// Table as immutable and return a new one.
type Table struct {
	Source  Source
	Records []*VehicleRecord
}

// NewTable creates a table for the given source
func NewTable(source Source, records []*VehicleRecord) *Table {
	if records == nil {
		records = []*VehicleRecord{}
	}
	return &Table{Source: source, Records: records}
}

// Len returns the number of records
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Clone deep-copies every record
func (t *Table) Clone() *Table {
	out := make([]*VehicleRecord, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Clone()
	}
	return NewTable(t.Source, out)
}

// ByID indexes records by ID
func (t *Table) ByID() map[int]*VehicleRecord {
	index := make(map[int]*VehicleRecord, len(t.Records))
	for _, r := range t.Records {
		index[r.ID] = r
	}
	return index
}

// Field names a record attribute usable in a join key
type Field string

const (
	FieldMake                   Field = "make"
	FieldModel                  Field = "model"
	FieldYear                   Field = "year"
	FieldFuelType               Field = "fuelType1"
	FieldDrive                  Field = "drive"
	FieldTransmissionType       Field = "transmission_type"
	FieldTransmissionSpeeds     Field = "transmission_speeds"
	FieldCylinders              Field = "cylinders"
	FieldDisplacement           Field = "displ"
	FieldModelNorm              Field = "model_mod"
	FieldFuelTypeNorm           Field = "fuelType1_mod"
	FieldDriveNorm              Field = "drive_mod"
	FieldTransmissionTypeNorm   Field = "transmission_type_mod"
	FieldTransmissionSpeedsNorm Field = "transmission_speeds_mod"
	FieldDisplacementNorm       Field = "displ_mod"
	FieldCylindersNorm          Field = "cylinders_mod"
)

// ParseField resolves a field name
func ParseField(name string) (Field, error) {
	f := Field(strings.TrimSpace(name))
	switch f {
	case FieldMake, FieldModel, FieldYear, FieldFuelType, FieldDrive,
		FieldTransmissionType, FieldTransmissionSpeeds, FieldCylinders, FieldDisplacement,
		FieldModelNorm, FieldFuelTypeNorm, FieldDriveNorm, FieldTransmissionTypeNorm,
		FieldTransmissionSpeedsNorm, FieldDisplacementNorm, FieldCylindersNorm:
		return f, nil
	}
	return "", fmt.Errorf("unknown field: %q", name)
}

// Value returns the join-key value of field f
func (r *VehicleRecord) Value(f Field) string {
	switch f {
	case FieldMake:
		return r.Make
	case FieldModel:
		return r.Model
	case FieldYear:
		return r.Year
	case FieldFuelType:
		return r.FuelType
	case FieldDrive:
		return r.Drive
	case FieldTransmissionType:
		return r.TransmissionType
	case FieldTransmissionSpeeds:
		return r.TransmissionSpeeds
	case FieldCylinders:
		return r.Cylinders
	case FieldDisplacement:
		return r.Displacement
	case FieldModelNorm:
		return r.Norm.Model
	case FieldFuelTypeNorm:
		return r.Norm.FuelType
	case FieldDriveNorm:
		return r.Norm.Drive
	case FieldTransmissionTypeNorm:
		return r.Norm.TransmissionType.Key()
	case FieldTransmissionSpeedsNorm:
		return r.Norm.TransmissionSpeeds.Key()
	case FieldDisplacementNorm:
		return r.Norm.Displacement.Key()
	case FieldCylindersNorm:
		return r.Norm.Cylinders
	default:
		return NullKey
	}
}

// MatchedPair links one VIN record to one EPA record
type MatchedPair struct {
	Vin   *VehicleRecord
	Epa   *VehicleRecord
	Round int
	// Key is the field subset both records agreed on
	Key []Field
}
