package reporter

import (
	"math"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/shopspring/decimal"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/reconciler"
)

// Summary holds descriptive statistics of one numeric column
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// summarize skips the missing-value sentinel (negative figures)
func summarize(values []float64) Summary {
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			continue
		}
		s.Count++
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Count == 0 {
		return Summary{}
	}
	s.Mean = sum / float64(s.Count)
	return s
}

// DuplicateGroup describes all EPA matches of one VIN
type DuplicateGroup struct {
	VIN       string  `json:"vin"`
	VINID     int     `json:"vin_id"`
	Size      int     `json:"size"`
	Highway08 Summary `json:"highway08"`
	Comb08    Summary `json:"comb08"`
	City08    Summary `json:"city08"`
}

// Spread returns the combined-MPG range across the group
func (g DuplicateGroup) Spread() float64 {
	return g.Comb08.Max - g.Comb08.Min
}

// RoundSummary is the per-round breakdown of the matcher
type RoundSummary struct {
	Round        int           `json:"round"`
	Key          string        `json:"key"`
	KeyFields    int           `json:"key_fields"`
	Candidates   int           `json:"candidates"`
	NewlyMatched int           `json:"newly_matched"`
	Pairs        int           `json:"pairs"`
	Cumulative   int           `json:"cumulative_matched"`
	Duration     time.Duration `json:"duration"`
}

// Analysis is the reporting view of a reconciliation run
type Analysis struct {
	RunID       string        `json:"run_id"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	EPARecords        int  `json:"epa_records"`
	VINRecords        int  `json:"vin_records"`
	WeightedVINs      int  `json:"weighted_vins"`
	MatchedUnweighted bool `json:"matched_unweighted"`

	MatchedVINIDs int `json:"matched_vin_ids"`
	MatchedEPAIDs int `json:"matched_epa_ids"`
	Pairs         int `json:"pairs"`

	// MatchedVINs counts distinct VIN strings; the headline metric
	MatchedVINs      int             `json:"matched_vins"`
	MatchedCounts    int64           `json:"matched_counts"`
	TotalCounts      int64           `json:"total_counts"`
	WeightedFraction decimal.Decimal `json:"weighted_fraction"`

	MaxGroupSize    int              `json:"max_group_size"`
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups"`

	UnmatchedVINCount int `json:"unmatched_vins"`
	UnmatchedEPACount int `json:"unmatched_epas"`

	Rounds []RoundSummary              `json:"rounds"`
	Stats  *reconciler.ProcessingStats `json:"stats,omitempty"`

	// Deduplicated keeps the first pair per VIN string, in round then
	// VIN_ID order
	Deduplicated []*models.MatchedPair `json:"-"`
	// UnmatchedVINs and UnmatchedEPAs are in ID order
	UnmatchedVINs []*models.VehicleRecord `json:"-"`
	UnmatchedEPAs []*models.VehicleRecord `json:"-"`

	result *reconciler.ReconciliationResult
	counts map[string]int64
}

// Result returns the reconciliation result the analysis was built from
func (a *Analysis) Result() *reconciler.ReconciliationResult {
	return a.result
}

// CountsOf returns the registration count of a VIN, if it has one
func (a *Analysis) CountsOf(vin string) (int64, bool) {
	n, ok := a.counts[vin]
	return n, ok
}

// WeightedPercent returns the weighted fraction as a percentage
func (a *Analysis) WeightedPercent() decimal.Decimal {
	return a.WeightedFraction.Mul(decimal.NewFromInt(100)).Round(2)
}

// Analyze computes the reporting metrics of a completed run
func Analyze(result *reconciler.ReconciliationResult) *Analysis {
	a := &Analysis{
		RunID:             result.RunID,
		CompletedAt:       result.CompletedAt,
		Duration:          result.Duration(),
		EPARecords:        result.EPA.Len(),
		VINRecords:        result.VINs.Len(),
		WeightedVINs:      result.WeightedVINs.Len(),
		MatchedUnweighted: result.MatchedUnweighted,
		MatchedVINIDs:     result.Match.MatchedVINCount(),
		MatchedEPAIDs:     result.Match.MatchedEPACount(),
		Pairs:             len(result.Match.Pairs),
		Stats:             result.Stats,
		result:            result,
		counts:            weightIndex(result.WeightedVINs),
	}

	a.Deduplicated = Deduplicate(result.Match.Pairs)
	a.MatchedVINs = len(a.Deduplicated)
	a.MatchedCounts, a.TotalCounts, a.WeightedFraction = weightedFraction(a.Deduplicated, a.counts)

	a.DuplicateGroups, a.MaxGroupSize = duplicateGroups(result.Match.Pairs)

	a.UnmatchedVINs = unmatched(result.VINs, result.Match.MatchedVINs)
	a.UnmatchedEPAs = unmatched(result.EPA, result.Match.MatchedEPAs)
	a.UnmatchedVINCount = len(a.UnmatchedVINs)
	a.UnmatchedEPACount = len(a.UnmatchedEPAs)

	cumulative := 0
	for _, rs := range result.Match.Rounds {
		cumulative += rs.NewlyMatched
		a.Rounds = append(a.Rounds, RoundSummary{
			Round:        rs.Round,
			Key:          rs.Key.String(),
			KeyFields:    len(rs.Key.Fields),
			Candidates:   rs.Candidates,
			NewlyMatched: rs.NewlyMatched,
			Pairs:        rs.Pairs,
			Cumulative:   cumulative,
			Duration:     rs.Duration,
		})
	}

	return a
}

// weightIndex maps each weighted VIN string to its count
func weightIndex(weighted *models.Table) map[string]int64 {
	counts := make(map[string]int64, weighted.Len())
	if weighted == nil {
		return counts
	}
	for _, r := range weighted.Records {
		if r.Vin == nil || r.Vin.Counts == nil {
			continue
		}
		if _, seen := counts[r.VINString()]; !seen {
			counts[r.VINString()] = *r.Vin.Counts
		}
	}
	return counts
}

// Deduplicate keeps the first pair of every VIN string. Pairs are expected
// in matcher order (round, then VIN table order).
func Deduplicate(pairs []*models.MatchedPair) []*models.MatchedPair {
	seen := make(map[string]bool, len(pairs))
	out := make([]*models.MatchedPair, 0, len(pairs))
	for _, p := range pairs {
		vin := p.Vin.VINString()
		if seen[vin] {
			continue
		}
		seen[vin] = true
		out = append(out, p)
	}
	return out
}

// weightedFraction divides the counts of matched VINs by the counts of all
// weighted VINs. Each VIN string is counted once on both sides.
func weightedFraction(deduplicated []*models.MatchedPair, counts map[string]int64) (int64, int64, decimal.Decimal) {
	var matched, total int64
	for _, n := range counts {
		total += n
	}
	for _, p := range deduplicated {
		matched += counts[p.Vin.VINString()]
	}

	if total <= 0 {
		return matched, total, decimal.Zero
	}
	return matched, total, decimal.NewFromInt(matched).Div(decimal.NewFromInt(total))
}

// duplicateGroups returns the VINs matched to more than one EPA record,
// largest first, and the largest group size over all VINs
func duplicateGroups(pairs []*models.MatchedPair) ([]DuplicateGroup, int) {
	type group struct {
		vinID int
		epas  []*models.VehicleRecord
	}

	order := make([]string, 0)
	groups := make(map[string]*group)
	for _, p := range pairs {
		vin := p.Vin.VINString()
		g, ok := groups[vin]
		if !ok {
			g = &group{vinID: p.Vin.ID}
			groups[vin] = g
			order = append(order, vin)
		}
		g.epas = append(g.epas, p.Epa)
	}

	maxSize := 0
	out := make([]DuplicateGroup, 0)
	for _, vin := range order {
		g := groups[vin]
		if len(g.epas) > maxSize {
			maxSize = len(g.epas)
		}
		if len(g.epas) < 2 {
			continue
		}

		highway := make([]float64, len(g.epas))
		comb := make([]float64, len(g.epas))
		city := make([]float64, len(g.epas))
		for i, epa := range g.epas {
			highway[i] = epa.Epa.Economy.Highway08
			comb[i] = epa.Epa.Economy.Comb08
			city[i] = epa.Epa.Economy.City08
		}
		out = append(out, DuplicateGroup{
			VIN:       vin,
			VINID:     g.vinID,
			Size:      len(g.epas),
			Highway08: summarize(highway),
			Comb08:    summarize(comb),
			City08:    summarize(city),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Size > out[j].Size
	})

	return out, maxSize
}

// unmatched returns the records of t whose ID is not in matched
func unmatched(t *models.Table, matched *roaring.Bitmap) []*models.VehicleRecord {
	if t.Len() == 0 {
		return []*models.VehicleRecord{}
	}

	all := roaring.New()
	byID := t.ByID()
	for id := range byID {
		all.Add(uint32(id))
	}
	missing := roaring.AndNot(all, matched)

	out := make([]*models.VehicleRecord, 0, missing.GetCardinality())
	it := missing.Iterator()
	for it.HasNext() {
		out = append(out, byID[int(it.Next())])
	}
	return out
}
