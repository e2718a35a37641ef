package matcher

import (
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// Engine runs the progressive multi-key join
type Engine struct {
	config *MatchingConfig
	logger logger.Logger
}

// RoundStats describes one matching round
type RoundStats struct {
	Round int     `json:"round"`
	Key   KeySpec `json:"key"`
	// Candidates is the number of VIN records still unmatched when the round began
	Candidates   int           `json:"candidates"`
	NewlyMatched int           `json:"newly_matched"`
	Pairs        int           `json:"pairs"`
	DistinctKeys int           `json:"distinct_keys"`
	Duration     time.Duration `json:"duration"`
}

// MatchResult is the accumulated output of all rounds
type MatchResult struct {
	// Pairs are ordered by round, then VIN table order, then EPA table order
	Pairs  []*models.MatchedPair
	Rounds []RoundStats

	// MatchedVINs and MatchedEPAs hold the IDs appearing in Pairs
	MatchedVINs *roaring.Bitmap
	MatchedEPAs *roaring.Bitmap

	TotalVINs int
	TotalEPAs int
}

// IsVINMatched reports whether the VIN record with id matched at any round
func (mr *MatchResult) IsVINMatched(id int) bool {
	return mr.MatchedVINs.Contains(uint32(id))
}

// IsEPAMatched reports whether the EPA record with id matched at any round
func (mr *MatchResult) IsEPAMatched(id int) bool {
	return mr.MatchedEPAs.Contains(uint32(id))
}

// MatchedVINCount returns the number of matched VIN records
func (mr *MatchResult) MatchedVINCount() int {
	return int(mr.MatchedVINs.GetCardinality())
}

// MatchedEPACount returns the number of matched EPA records
func (mr *MatchResult) MatchedEPACount() int {
	return int(mr.MatchedEPAs.GetCardinality())
}

// NewEngine creates a matching engine with the specified configuration
func NewEngine(config *MatchingConfig) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}

	return &Engine{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Match joins vins against epas round by round. Both tables must carry
// normalized values and dense IDs.
func (e *Engine) Match(vins, epas *models.Table) *MatchResult {
	result := &MatchResult{
		Pairs:       make([]*models.MatchedPair, 0),
		MatchedVINs: roaring.New(),
		MatchedEPAs: roaring.New(),
		TotalVINs:   vins.Len(),
		TotalEPAs:   epas.Len(),
	}

	for round, spec := range e.config.KeySpecs() {
		stats := e.matchRound(round, spec, vins, epas, result)
		result.Rounds = append(result.Rounds, stats)

		e.logger.WithFields(logger.Fields{
			"round":         round,
			"key":           spec.String(),
			"candidates":    stats.Candidates,
			"newly_matched": stats.NewlyMatched,
			"pairs":         stats.Pairs,
			"duration":      stats.Duration.String(),
		}).Info("Matching round completed")
	}

	e.logger.WithFields(logger.Fields{
		"vins":         result.TotalVINs,
		"epas":         result.TotalEPAs,
		"matched_vins": result.MatchedVINCount(),
		"matched_epas": result.MatchedEPACount(),
		"pairs":        len(result.Pairs),
	}).Info("Matching completed")

	return result
}

func (e *Engine) matchRound(round int, spec KeySpec, vins, epas *models.Table, result *MatchResult) RoundStats {
	start := time.Now()
	index := NewRecordIndex(epas, spec)
	stats := RoundStats{Round: round, Key: spec, DistinctKeys: index.Keys()}

	// IDs matched in this round are added after the loop, so VIN rows that
	// share an ID cannot shadow each other within a round.
	newly := roaring.New()
	for _, vin := range vins.Records {
		id := uint32(vin.ID)
		if result.MatchedVINs.Contains(id) {
			continue
		}
		stats.Candidates++

		hits := index.Lookup(vin)
		if len(hits) == 0 {
			continue
		}
		for _, epa := range hits {
			result.Pairs = append(result.Pairs, &models.MatchedPair{
				Vin:   vin,
				Epa:   epa,
				Round: round,
				Key:   spec.Fields,
			})
			result.MatchedEPAs.Add(uint32(epa.ID))
		}
		stats.Pairs += len(hits)
		if !newly.Contains(id) {
			newly.Add(id)
			stats.NewlyMatched++
		}
	}
	result.MatchedVINs.Or(newly)

	if index.LargestBucket() > 1 && e.logger.IsDebugEnabled() {
		e.logger.WithFields(logger.Fields{
			"round":          round,
			"largest_bucket": index.LargestBucket(),
		}).Debug("Ambiguous keys present")
	}

	stats.Duration = time.Since(start)
	return stats
}

// String returns a short description of the result
func (mr *MatchResult) String() string {
	return fmt.Sprintf("MatchResult{VINs: %d/%d, EPAs: %d/%d, Pairs: %d, Rounds: %d}",
		mr.MatchedVINCount(), mr.TotalVINs, mr.MatchedEPACount(), mr.TotalEPAs, len(mr.Pairs), len(mr.Rounds))
}
