package reconciler

import (
	"context"

	"vehicle-reconciliation-service/internal/matcher"
	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/parsers"
	"vehicle-reconciliation-service/pkg/logger"
)

// loadInputs parses both catalogs and the weight table
func (rs *ReconciliationService) loadInputs(
	ctx context.Context,
	request *ReconciliationRequest,
	stats *ProcessingStats,
) (*models.Table, *models.Table, *parsers.WeightTable, error) {

	epa, epaStats, err := rs.catalogParser.ParseEPA(ctx, request.EPAFile)
	if err != nil {
		return nil, nil, nil, err
	}
	stats.Parse[string(models.SourceEPA)] = epaStats

	vins, vinStats, err := rs.catalogParser.ParseVIN(ctx, request.VINFile)
	if err != nil {
		return nil, nil, nil, err
	}
	stats.Parse[string(models.SourceVIN)] = vinStats

	weights, weightStats, err := rs.weightParser.ParseWeights(ctx, request.WeightsFile)
	if err != nil {
		return nil, nil, nil, err
	}
	stats.Parse["weights"] = weightStats

	for name, ps := range stats.Parse {
		if ps.HasErrors() {
			rs.logger.WithFields(logger.Fields{
				"input":         name,
				"error_count":   ps.ErrorCount,
				"sample_errors": ps.GetSampleErrors(3),
			}).Warn("Recovered cell-level parse errors")
		}
	}

	return epa, vins, weights, nil
}

// filterTables applies the eligibility filter to both catalogs
func (rs *ReconciliationService) filterTables(
	epa, vins *models.Table,
	stats *ProcessingStats,
) (*models.Table, *models.Table) {

	epa, epaStats := rs.preprocessor.FilterTable(epa)
	vins, vinStats := rs.preprocessor.FilterTable(vins)

	stats.Filter[models.SourceEPA] = epaStats
	stats.Filter[models.SourceVIN] = vinStats

	return epa, vins
}

// expandTables splits multi-model records in both catalogs
func (rs *ReconciliationService) expandTables(
	epa, vins *models.Table,
	stats *ProcessingStats,
) (*models.Table, *models.Table) {

	epa, epaStats := rs.preprocessor.ExpandTable(epa)
	vins, vinStats := rs.preprocessor.ExpandTable(vins)

	stats.Expansion[models.SourceEPA] = epaStats
	stats.Expansion[models.SourceVIN] = vinStats

	return epa, vins
}

// matchTables runs the progressive matcher on the configured VIN subset
func (rs *ReconciliationService) matchTables(result *ReconciliationResult) (*matcher.MatchResult, bool) {
	candidates := result.WeightedVINs
	if rs.config.MatchUnweighted {
		candidates = result.VINs
	}

	rs.logger.WithFields(logger.Fields{
		"candidates": candidates.Len(),
		"epa":        result.EPA.Len(),
		"rounds":     rs.config.Matching.Rounds,
		"unweighted": rs.config.MatchUnweighted,
	}).Info("Matching VIN records")

	return rs.engine.Match(candidates, result.EPA), rs.config.MatchUnweighted
}
