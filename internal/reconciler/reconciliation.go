// Package reconciler runs the vehicle catalog reconciliation pipeline.
//
// The pipeline is a fixed sequence of pure stages, each taking and returning
// a models.Table:
//   - load both catalogs and the registration-weight table
//   - filter ineligible records
//   - expand multi-model records
//   - assign dense IDs
//   - normalize the match fields
//   - join registration weights
//   - run the progressive matcher
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(reconciler.DefaultConfig())
//	result, err := service.Process(ctx, &reconciler.ReconciliationRequest{
//		EPAFile:     "epa_data.csv",
//		VINFile:     "vin_data.csv",
//		WeightsFile: "registrations.csv",
//	})
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vehicle-reconciliation-service/internal/matcher"
	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/normalize"
	"vehicle-reconciliation-service/internal/parsers"
	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

// ReconciliationService orchestrates the complete reconciliation process
type ReconciliationService struct {
	catalogParser *parsers.CatalogParser
	weightParser  *parsers.WeightParser
	preprocessor  *DataPreprocessor
	normalizer    *normalize.Normalizer
	engine        *matcher.Engine
	config        *Config
	logger        logger.Logger

	progressCallbacks []ProgressCallback
	currentProgress   *ReconciliationProgress
	progressMutex     sync.RWMutex
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Catalog       *parsers.CatalogParserConfig
	Weights       *parsers.WeightParserConfig
	Preprocessing *PreprocessingConfig
	WeightJoin    *WeightJoinConfig
	Matching      *matcher.MatchingConfig

	// VocabularyFile is an optional TOML or YAML file merged over the
	// default vocabulary
	VocabularyFile string

	// MatchUnweighted also matches VIN records absent from the weight table
	MatchUnweighted bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Catalog:       parsers.DefaultCatalogParserConfig(),
		Weights:       parsers.DefaultWeightParserConfig(),
		Preprocessing: DefaultPreprocessingConfig(),
		WeightJoin:    DefaultWeightJoinConfig(),
		Matching:      matcher.DefaultMatchingConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Catalog == nil || c.Weights == nil || c.Preprocessing == nil ||
		c.WeightJoin == nil || c.Matching == nil {
		return fmt.Errorf("all stage configurations are required")
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog parser: %w", err)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("weight parser: %w", err)
	}
	if err := c.Preprocessing.Validate(); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	if err := c.WeightJoin.Validate(); err != nil {
		return fmt.Errorf("weight join: %w", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}

	return nil
}

// ReconciliationRequest names the three input tables of one run
type ReconciliationRequest struct {
	EPAFile     string `json:"epa_file"`
	VINFile     string `json:"vin_file"`
	WeightsFile string `json:"weights_file"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if r.EPAFile == "" {
		return fmt.Errorf("EPA catalog file path is required")
	}

	if r.VINFile == "" {
		return fmt.Errorf("VIN catalog file path is required")
	}

	if r.WeightsFile == "" {
		return fmt.Errorf("registration weight file path is required")
	}

	return nil
}

// ReconciliationResult contains the tables and statistics of one run
type ReconciliationResult struct {
	RunID       string                 `json:"run_id"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Request     *ReconciliationRequest `json:"request"`

	// EPA and VINs are filtered, expanded, numbered and normalized
	EPA  *models.Table `json:"-"`
	VINs *models.Table `json:"-"`
	// WeightedVINs is the subset of VINs with a registration count
	WeightedVINs *models.Table `json:"-"`
	// MatchedUnweighted is set when VINs rather than WeightedVINs were matched
	MatchedUnweighted bool `json:"matched_unweighted"`

	Match *matcher.MatchResult `json:"-"`

	Stats *ProcessingStats `json:"stats"`
}

// Duration returns the wall time of the run
func (r *ReconciliationResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ProcessingStats contains per-stage statistics
type ProcessingStats struct {
	Parse     map[string]*parsers.ParseStats    `json:"parse"`
	Filter    map[models.Source]*FilterStats    `json:"filter"`
	Expansion map[models.Source]*ExpansionStats `json:"expansion"`
	Weights   *WeightJoinStats                  `json:"weights"`
	Stages    map[string]time.Duration          `json:"stages"`
}

func newProcessingStats() *ProcessingStats {
	return &ProcessingStats{
		Parse:     make(map[string]*parsers.ParseStats),
		Filter:    make(map[models.Source]*FilterStats),
		Expansion: make(map[models.Source]*ExpansionStats),
		Stages:    make(map[string]time.Duration),
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(config *Config) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciliation", nil, err)
	}

	catalogParser, err := parsers.NewCatalogParser(config.Catalog)
	if err != nil {
		return nil, err
	}

	weightParser, err := parsers.NewWeightParser(config.Weights)
	if err != nil {
		return nil, err
	}

	preprocessor, err := NewDataPreprocessor(config.Preprocessing)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "preprocessing", nil, err)
	}

	vocab := normalize.DefaultVocabulary()
	if config.VocabularyFile != "" {
		vocab, err = normalize.LoadVocabularyFile(config.VocabularyFile)
		if err != nil {
			return nil, err
		}
	}

	engine, err := matcher.NewEngine(config.Matching)
	if err != nil {
		return nil, err
	}

	return &ReconciliationService{
		catalogParser: catalogParser,
		weightParser:  weightParser,
		preprocessor:  preprocessor,
		normalizer:    normalize.NewNormalizer(vocab, nil),
		engine:        engine,
		config:        config,
		logger:        logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// GetMatchingConfig returns the matching configuration in use
func (rs *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return rs.engine.Config()
}

// Normalizer returns the field normalizer used by the pipeline
func (rs *ReconciliationService) Normalizer() *normalize.Normalizer {
	return rs.normalizer
}

// Process runs the complete pipeline for one request. Any load or schema
// failure aborts the run; there is no partial result.
func (rs *ReconciliationService) Process(ctx context.Context, request *ReconciliationRequest) (*ReconciliationResult, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "request", request, err)
	}

	result := &ReconciliationResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Request:   request,
		Stats:     newProcessingStats(),
	}
	log := rs.logger.WithField("run_id", result.RunID)
	log.WithFields(logger.Fields{
		"epa_file":     request.EPAFile,
		"vin_file":     request.VINFile,
		"weights_file": request.WeightsFile,
	}).Info("Starting reconciliation run")

	rs.initializeProgress(result.StartedAt)

	var (
		epa, vins *models.Table
		weights   *parsers.WeightTable
	)

	stages := []struct {
		name string
		run  func() error
	}{
		{StageLoad, func() (err error) {
			epa, vins, weights, err = rs.loadInputs(ctx, request, result.Stats)
			return err
		}},
		{StageFilter, func() error {
			epa, vins = rs.filterTables(epa, vins, result.Stats)
			return ctx.Err()
		}},
		{StageExpand, func() error {
			epa, vins = rs.expandTables(epa, vins, result.Stats)
			return ctx.Err()
		}},
		{StageAssignIDs, func() error {
			epa, vins = AssignIDs(epa), AssignIDs(vins)
			return nil
		}},
		{StageNormalize, func() error {
			epa, vins = rs.normalizer.NormalizeTable(epa), rs.normalizer.NormalizeTable(vins)
			return ctx.Err()
		}},
		{StageJoinWeights, func() error {
			result.WeightedVINs, result.Stats.Weights = JoinWeights(vins, weights, rs.config.WeightJoin)
			return nil
		}},
		{StageMatch, func() error {
			result.EPA, result.VINs = epa, vins
			result.Match, result.MatchedUnweighted = rs.matchTables(result)
			return nil
		}},
	}

	for i, stage := range stages {
		rs.updateProgress(stage.name, i)
		start := time.Now()
		if err := logger.TimedOperation(stage.name, log, stage.run); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
				return nil, errors.ReconciliationError(errors.CodeProcessingError, stage.name, err).
					WithSuggestion("the run was cancelled; rerun to completion")
			}
			return nil, err
		}
		result.Stats.Stages[stage.name] = time.Since(start)
	}
	rs.updateProgress(StageCompleted, len(stages))

	result.CompletedAt = time.Now()

	log.WithFields(logger.Fields{
		"epa_records":   result.EPA.Len(),
		"vin_records":   result.VINs.Len(),
		"weighted_vins": result.WeightedVINs.Len(),
		"matched_vins":  result.Match.MatchedVINCount(),
		"pairs":         len(result.Match.Pairs),
		"duration":      result.Duration().String(),
	}).Info("Reconciliation run completed")

	return result, nil
}
