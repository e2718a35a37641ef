package parsers

import (
	"fmt"
	"strings"
)

// EPA catalog headers
const (
	EPAMake       = "make"
	EPAModel      = "model"
	EPAYear       = "year"
	EPAFuelType   = "fuelType1"
	EPADrive      = "drive"
	EPATrany      = "trany"
	EPACylinders  = "cylinders"
	EPADispl      = "displ"
	EPACity08     = "city08"
	EPACity08U    = "city08U"
	EPAHighway08  = "highway08"
	EPAHighway08U = "highway08U"
	EPAComb08     = "comb08"
	EPAComb08U    = "comb08U"

	// Present in the VIN catalog only after renaming
	EPATransmissionType   = "transmission_type"
	EPATransmissionSpeeds = "transmission_speeds"
)

// VIN catalog headers, after the header prefix is stripped
const (
	VINNumber             = "VIN"
	VINVehicleType        = "VehicleType"
	VINBodyClass          = "BodyClass"
	VINErrorCode          = "ErrorCode"
	VINSeries             = "Series"
	VINMake               = "Make"
	VINModel              = "Model"
	VINModelYear          = "ModelYear"
	VINFuelTypePrimary    = "FuelTypePrimary"
	VINDriveType          = "DriveType"
	VINTransmissionStyle  = "TransmissionStyle"
	VINTransmissionSpeeds = "TransmissionSpeeds"
	VINEngineCylinders    = "EngineCylinders"
	VINDisplacementL      = "DisplacementL"
)

// VINColumnRenames maps VIN catalog mechanical-spec headers onto EPA naming
var VINColumnRenames = map[string]string{
	VINMake:               EPAMake,
	VINModel:              EPAModel,
	VINModelYear:          EPAYear,
	VINFuelTypePrimary:    EPAFuelType,
	VINDriveType:          EPADrive,
	VINTransmissionStyle:  EPATransmissionType,
	VINTransmissionSpeeds: EPATransmissionSpeeds,
	VINEngineCylinders:    EPACylinders,
	VINDisplacementL:      EPADispl,
}

// RequiredEPAHeaders are the columns an EPA catalog must carry
var RequiredEPAHeaders = []string{EPAMake, EPAModel, EPAYear}

// RequiredVINHeaders are the columns a VIN catalog must carry, after renaming
var RequiredVINHeaders = []string{VINNumber, EPAMake, EPAModel, EPAYear}

// CatalogParserConfig holds configuration for parsing the vehicle catalogs
type CatalogParserConfig struct {
	Delimiter rune `json:"delimiter"`
	// VINHeaderPrefix is stripped from VIN catalog headers, e.g. "Results_0_Make"
	VINHeaderPrefix string `json:"vin_header_prefix"`
	// CollapseVINDuplicates collapses "a, a" cells of the VIN catalog
	CollapseVINDuplicates bool              `json:"collapse_vin_duplicates"`
	ValidateEncoding      bool              `json:"validate_encoding"`
	ReportProgress        bool              `json:"report_progress"`
	ColumnAliases         map[string]string `json:"column_aliases,omitempty"`
}

// DefaultCatalogParserConfig returns a configuration with standard defaults
func DefaultCatalogParserConfig() *CatalogParserConfig {
	return &CatalogParserConfig{
		Delimiter:             ',',
		VINHeaderPrefix:       "Results_0_",
		CollapseVINDuplicates: true,
		ValidateEncoding:      true,
		ColumnAliases:         make(map[string]string),
	}
}

// Validate checks if the catalog parser configuration is valid
func (c *CatalogParserConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}

	for alias, name := range c.ColumnAliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(name) == "" {
			return fmt.Errorf("column aliases cannot be empty")
		}
	}

	return nil
}

func (c *CatalogParserConfig) parseConfig() *ParseConfig {
	pc := DefaultParseConfig()
	pc.Delimiter = c.Delimiter
	pc.ValidateEncoding = c.ValidateEncoding
	return pc
}

// vinHeaderRename strips the header prefix, applies aliases and then maps
// VIN catalog names onto EPA naming.
func (c *CatalogParserConfig) vinHeaderRename(header string) string {
	if c.VINHeaderPrefix != "" {
		if i := strings.Index(header, c.VINHeaderPrefix); i >= 0 && len(header) > i+len(c.VINHeaderPrefix) {
			header = header[i+len(c.VINHeaderPrefix):]
		}
	}
	header = c.alias(header)
	if renamed, ok := VINColumnRenames[header]; ok {
		return renamed
	}
	return header
}

func (c *CatalogParserConfig) alias(header string) string {
	if name, ok := c.ColumnAliases[header]; ok {
		return name
	}
	return header
}

// WeightParserConfig holds configuration for the registration-weight table
type WeightParserConfig struct {
	Delimiter rune `json:"delimiter"`
	HasHeader bool `json:"has_header"`
}

// DefaultWeightParserConfig returns the headerless two-column layout
func DefaultWeightParserConfig() *WeightParserConfig {
	return &WeightParserConfig{
		Delimiter: ',',
		HasHeader: false,
	}
}

// Validate checks if the weight parser configuration is valid
func (c *WeightParserConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	return nil
}
