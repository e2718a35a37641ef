package reconciler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/parsers"
	"vehicle-reconciliation-service/pkg/logger"
)

// NotApplicableCount marks a weight-table row without a registration count
const NotApplicableCount = "."

// DefaultWeightThreshold drops VINs registered this many times or fewer
const DefaultWeightThreshold = 10

// WeightJoinConfig contains configuration for the registration-weight join
type WeightJoinConfig struct {
	// Threshold is exclusive: only counts strictly above it are kept
	Threshold int64 `json:"threshold"`
}

// DefaultWeightJoinConfig returns the standard weight join configuration
func DefaultWeightJoinConfig() *WeightJoinConfig {
	return &WeightJoinConfig{Threshold: DefaultWeightThreshold}
}

// Validate checks the weight join configuration
func (c *WeightJoinConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("weight threshold cannot be negative, got %d", c.Threshold)
	}
	return nil
}

// WeightJoinStats describes the weight table cleanup and the join
type WeightJoinStats struct {
	Entries        int `json:"entries"`
	NotApplicable  int `json:"not_applicable"`
	Unparsable     int `json:"unparsable"`
	BelowThreshold int `json:"below_threshold"`
	Duplicates     int `json:"duplicates"`
	Accepted       int `json:"accepted"`

	// VIN records kept by the inner join, and those without a weight
	Joined     int `json:"joined"`
	Unweighted int `json:"unweighted"`
}

// ParseWeightCount parses a registration count. Counts must be whole numbers;
// "." and anything non-numeric are rejected.
func ParseWeightCount(s string) (int64, error) {
	if s == NotApplicableCount {
		return 0, fmt.Errorf("count not applicable")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("count %q is not a whole number", s)
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("count %q out of range", s)
	}
	return d.IntPart(), nil
}

// CleanWeights returns the VIN -> count map of usable weight rows
func CleanWeights(weights *parsers.WeightTable, config *WeightJoinConfig) (map[string]int64, *WeightJoinStats) {
	stats := &WeightJoinStats{Entries: weights.Len()}
	log := logger.GetGlobalLogger().WithComponent("weight_join")

	counts := make(map[string]int64, weights.Len())
	if weights == nil {
		return counts, stats
	}

	for _, entry := range weights.Entries {
		if entry.Counts == NotApplicableCount {
			stats.NotApplicable++
			continue
		}

		n, err := ParseWeightCount(entry.Counts)
		if err != nil {
			stats.Unparsable++
			log.WithFields(logger.Fields{
				"line":  entry.Line,
				"vin":   entry.VIN,
				"value": entry.Counts,
			}).Debug("Dropping unparsable registration count")
			continue
		}

		if n <= config.Threshold {
			stats.BelowThreshold++
			continue
		}

		if _, exists := counts[entry.VIN]; exists {
			stats.Duplicates++
			log.WithFields(logger.Fields{
				"line": entry.Line,
				"vin":  entry.VIN,
			}).Warn("Duplicate VIN in weight table, keeping first occurrence")
			continue
		}

		counts[entry.VIN] = n
		stats.Accepted++
	}

	if stats.Unparsable > 0 {
		log.WithField("unparsable", stats.Unparsable).Warn("Weight table contains unparsable counts")
	}

	return counts, stats
}

// JoinWeights inner-joins vins with the weight table on the lowercased VIN.
// The returned table holds copies carrying Counts; vins is not modified.
func JoinWeights(vins *models.Table, weights *parsers.WeightTable, config *WeightJoinConfig) (*models.Table, *WeightJoinStats) {
	if config == nil {
		config = DefaultWeightJoinConfig()
	}

	counts, stats := CleanWeights(weights, config)

	out := make([]*models.VehicleRecord, 0, len(counts))
	for _, r := range vins.Records {
		n, ok := counts[r.VINString()]
		if !ok {
			stats.Unweighted++
			continue
		}
		c := r.Clone()
		c.Vin.Counts = &n
		out = append(out, c)
	}
	stats.Joined = len(out)

	logger.GetGlobalLogger().WithComponent("weight_join").WithFields(logger.Fields{
		"weights":         stats.Entries,
		"accepted":        stats.Accepted,
		"not_applicable":  stats.NotApplicable,
		"below_threshold": stats.BelowThreshold,
		"vins":            vins.Len(),
		"joined":          stats.Joined,
	}).Info("Joined registration weights")

	return models.NewTable(vins.Source, out), stats
}
