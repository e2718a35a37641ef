package reconciler

import (
	"fmt"
	"regexp"
	"strings"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/logger"
)

// Filter drop reasons
const (
	DropMissingEssentials = "missing_essentials"
	DropVehicleType       = "vehicle_type"
	DropBodyClass         = "body_class"
	DropFuelType          = "fuel_type"
	DropModelToken        = "model_token"
)

// DataPreprocessor applies the eligibility filter and model expansion
type DataPreprocessor struct {
	config *PreprocessingConfig
	logger logger.Logger

	fuelPattern       *regexp.Regexp
	modelPattern      *regexp.Regexp
	drivetrainPattern *regexp.Regexp
	excludedTypes     map[string]bool
}

// PreprocessingConfig contains configuration for row filtering and expansion
type PreprocessingConfig struct {
	// VIN records whose vehicle type is in this set are dropped
	ExcludedVehicleTypes []string
	// VIN records whose body class contains this token are dropped
	ExcludedBodyClassToken string

	// Records of either source matching these patterns are dropped
	ExcludedFuelPattern  string
	ExcludedModelPattern string

	// EPA model suffix such as "2wd" or "4wd"; the first group is kept
	DrivetrainSuffixPattern string

	// Characters that join several model names in one token
	ExpansionSeparators string
}

// DefaultPreprocessingConfig returns the standard filter configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		ExcludedVehicleTypes: []string{
			"incomplete vehicle",
			"trailer",
			"motorcycle",
			"bus",
			"low speed vehicle (lsv)",
		},
		ExcludedBodyClassToken:  "incomplete",
		ExcludedFuelPattern:     `(electric|flexible)`,
		ExcludedModelPattern:    `(plug|hev|hybrid|bev|electric)`,
		DrivetrainSuffixPattern: `^(.+) (.+)wd$`,
		ExpansionSeparators:     "/,",
	}
}

// Validate checks the patterns compile and a separator is set
func (c *PreprocessingConfig) Validate() error {
	for name, pattern := range map[string]string{
		"excluded fuel pattern":     c.ExcludedFuelPattern,
		"excluded model pattern":    c.ExcludedModelPattern,
		"drivetrain suffix pattern": c.DrivetrainSuffixPattern,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, pattern, err)
		}
	}

	if strings.TrimSpace(c.ExpansionSeparators) == "" {
		return fmt.Errorf("expansion separators cannot be empty")
	}
	if strings.ContainsAny(c.ExpansionSeparators, " \t") {
		return fmt.Errorf("expansion separators cannot contain whitespace")
	}

	return nil
}

// FilterStats counts the records dropped by each rule
type FilterStats struct {
	Source  models.Source  `json:"source"`
	Input   int            `json:"input"`
	Output  int            `json:"output"`
	Dropped map[string]int `json:"dropped"`
	// Stripped counts EPA models that lost a drivetrain suffix
	Stripped int `json:"stripped"`
}

// TotalDropped returns the number of records removed
func (fs *FilterStats) TotalDropped() int {
	return fs.Input - fs.Output
}

// ExpansionStats describes a model expansion pass
type ExpansionStats struct {
	Source   models.Source `json:"source"`
	Input    int           `json:"input"`
	Output   int           `json:"output"`
	Expanded int           `json:"expanded"`
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) (*DataPreprocessor, error) {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	dp := &DataPreprocessor{
		config:        config,
		logger:        logger.GetGlobalLogger().WithComponent("preprocessor"),
		excludedTypes: make(map[string]bool, len(config.ExcludedVehicleTypes)),
	}
	if config.ExcludedFuelPattern != "" {
		dp.fuelPattern = regexp.MustCompile(config.ExcludedFuelPattern)
	}
	if config.ExcludedModelPattern != "" {
		dp.modelPattern = regexp.MustCompile(config.ExcludedModelPattern)
	}
	if config.DrivetrainSuffixPattern != "" {
		dp.drivetrainPattern = regexp.MustCompile(config.DrivetrainSuffixPattern)
	}
	for _, vt := range config.ExcludedVehicleTypes {
		dp.excludedTypes[strings.ToLower(strings.TrimSpace(vt))] = true
	}

	return dp, nil
}

// FilterTable returns the eligible records of t. Dropping is silent; an empty
// result is valid.
func (dp *DataPreprocessor) FilterTable(t *models.Table) (*models.Table, *FilterStats) {
	stats := &FilterStats{
		Source:  t.Source,
		Input:   t.Len(),
		Dropped: make(map[string]int),
	}

	out := make([]*models.VehicleRecord, 0, t.Len())
	for _, r := range t.Records {
		if reason := dp.rejectReason(r); reason != "" {
			stats.Dropped[reason]++
			continue
		}

		kept := r.Clone()
		if kept.Source == models.SourceEPA && dp.drivetrainPattern != nil {
			if m := dp.drivetrainPattern.FindStringSubmatch(kept.ModelMod); m != nil {
				kept.ModelMod = m[1]
				stats.Stripped++
			}
		}
		out = append(out, kept)
	}
	stats.Output = len(out)

	dp.logger.WithFields(logger.Fields{
		"source":   t.Source,
		"input":    stats.Input,
		"output":   stats.Output,
		"dropped":  stats.Dropped,
		"stripped": stats.Stripped,
	}).Info("Filtered records")

	return models.NewTable(t.Source, out), stats
}

func (dp *DataPreprocessor) rejectReason(r *models.VehicleRecord) string {
	if !r.HasEssentials() {
		return DropMissingEssentials
	}

	if r.Vin != nil {
		if dp.excludedTypes[r.Vin.VehicleType] {
			return DropVehicleType
		}
		if dp.config.ExcludedBodyClassToken != "" &&
			strings.Contains(r.Vin.BodyClass, dp.config.ExcludedBodyClassToken) {
			return DropBodyClass
		}
	}

	if dp.fuelPattern != nil && dp.fuelPattern.MatchString(r.FuelType) {
		return DropFuelType
	}
	if dp.modelPattern != nil && dp.modelPattern.MatchString(r.Model) {
		return DropModelToken
	}

	return ""
}

// ExpandTable splits records whose working model joins several names, e.g.
// "civic/accord 2wd", into one record per name. Other fields are copied.
func (dp *DataPreprocessor) ExpandTable(t *models.Table) (*models.Table, *ExpansionStats) {
	stats := &ExpansionStats{Source: t.Source, Input: t.Len()}

	out := make([]*models.VehicleRecord, 0, t.Len())
	for _, r := range t.Records {
		variants := ExpandModel(r.ModelMod, dp.config.ExpansionSeparators)
		if len(variants) == 1 && variants[0] == r.ModelMod {
			out = append(out, r.Clone())
			continue
		}

		stats.Expanded++
		for _, v := range variants {
			c := r.Clone()
			c.ModelMod = v
			out = append(out, c)
		}

		if dp.logger.IsDebugEnabled() {
			dp.logger.WithFields(logger.Fields{
				"source":   t.Source,
				"model":    r.ModelMod,
				"variants": variants,
			}).Debug("Expanded model")
		}
	}
	stats.Output = len(out)

	dp.logger.WithFields(logger.Fields{
		"source":   t.Source,
		"input":    stats.Input,
		"output":   stats.Output,
		"expanded": stats.Expanded,
	}).Info("Expanded records")

	return models.NewTable(t.Source, out), stats
}

// ExpandModel returns the model variants encoded in s. The first
// whitespace-delimited token containing a separator is split on every
// separator and each piece is substituted back in place of the token.
// A string without separators is returned as the only variant.
func ExpandModel(s, separators string) []string {
	if !strings.ContainsAny(s, separators) {
		return []string{s}
	}

	// "civic, accord 2wd" and "civic / accord" read as one token
	s = tightenSeparators(s, separators)

	tokens := strings.Split(s, " ")
	for i, token := range tokens {
		if !strings.ContainsAny(token, separators) {
			continue
		}

		pieces := strings.FieldsFunc(token, func(r rune) bool {
			return strings.ContainsRune(separators, r)
		})
		if len(pieces) == 0 {
			pieces = []string{""}
		}

		variants := make([]string, 0, len(pieces))
		for _, piece := range pieces {
			parts := make([]string, len(tokens))
			copy(parts, tokens)
			parts[i] = piece
			v := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
			if v == "" {
				v = models.Missing
			}
			variants = append(variants, v)
		}
		return variants
	}

	return []string{s}
}

// tightenSeparators removes whitespace on both sides of every separator
func tightenSeparators(s, separators string) string {
	var b strings.Builder
	b.Grow(len(s))
	skipSpace := false
	for _, r := range s {
		switch {
		case strings.ContainsRune(separators, r):
			trimmed := strings.TrimRight(b.String(), " \t")
			b.Reset()
			b.WriteString(trimmed)
			b.WriteRune(r)
			skipSpace = true
		case skipSpace && (r == ' ' || r == '\t'):
		default:
			b.WriteRune(r)
			skipSpace = false
		}
	}
	return b.String()
}

// AssignIDs returns a copy of t with IDs numbered 1..N in table order
func AssignIDs(t *models.Table) *models.Table {
	out := make([]*models.VehicleRecord, len(t.Records))
	for i, r := range t.Records {
		c := r.Clone()
		c.ID = i + 1
		out[i] = c
	}
	return models.NewTable(t.Source, out)
}
