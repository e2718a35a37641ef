package normalize

import (
	"regexp"
	"strings"

	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/logger"
)

// ModelStep is one named rewrite of the working model string. Steps run in
// order; each sees the previous step's output.
type ModelStep struct {
	Name string
	// Applies limits the step to some records; nil means every record
	Applies func(r *models.VehicleRecord) bool
	Fn      func(r *models.VehicleRecord, s string) string
}

// StepResult records what a single step did to a value
type StepResult struct {
	Step    string `json:"step"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Skipped bool   `json:"skipped"`
}

// Changed reports whether the step rewrote its input
func (sr StepResult) Changed() bool {
	return !sr.Skipped && sr.Input != sr.Output
}

// Step names
const (
	StepStripBrandPrefix  = "strip_brand_prefix"
	StepRelabelSubmodel   = "relabel_submodel"
	StepFirstToken        = "first_token"
	StepDropDecimalSuffix = "drop_decimal_suffix"
	StepDropDecimalPrefix = "drop_decimal_prefix"
	StepRemoveSeparators  = "remove_separators"
)

// brandPrefixes maps a make to the prefix its VIN model names repeat
var brandPrefixes = map[string]string{
	"mazda": "mazda",
}

var (
	submodelPattern      = regexp.MustCompile(`^john cooper works(.*)`)
	decimalSuffixPattern = regexp.MustCompile(`^(.*) [0-9]\.[0-9]$`)
	decimalPrefixPattern = regexp.MustCompile(`^.*[0-9]\.[0-9](.+)`)
)

// StripBrandPrefix removes the leading brand name of the record's make,
// "mazda3" -> "3"
func StripBrandPrefix(r *models.VehicleRecord, s string) string {
	prefix, ok := brandPrefixes[r.Make]
	if !ok {
		return s
	}
	return strings.TrimPrefix(s, prefix)
}

// RelabelSubmodel abbreviates "john cooper works" to "jcw"
func RelabelSubmodel(s string) string {
	m := submodelPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return "jcw" + m[1]
}

// FirstToken keeps the first whitespace-delimited token
func FirstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return strings.TrimSpace(s)
	}
	return fields[0]
}

// DropDecimalSuffix drops a trailing engine size, "tt 3.2" -> "tt"
func DropDecimalSuffix(s string) string {
	if m := decimalSuffixPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// DropDecimalPrefix drops a leading engine size, "3.2cl" -> "cl"
func DropDecimalPrefix(s string) string {
	if m := decimalPrefixPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// RemoveSeparators deletes spaces and hyphens, "cx-5" -> "cx5"
func RemoveSeparators(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

func fromSource(source models.Source) func(*models.VehicleRecord) bool {
	return func(r *models.VehicleRecord) bool { return r.Source == source }
}

// textStep adapts a plain string rewrite to the ModelStep signature
func textStep(fn func(string) string) func(*models.VehicleRecord, string) string {
	return func(_ *models.VehicleRecord, s string) string { return fn(s) }
}

// DefaultModelSteps returns the model token extraction steps in order
func DefaultModelSteps() []ModelStep {
	return []ModelStep{
		{Name: StepStripBrandPrefix, Applies: fromSource(models.SourceVIN), Fn: StripBrandPrefix},
		{Name: StepRelabelSubmodel, Applies: fromSource(models.SourceEPA), Fn: textStep(RelabelSubmodel)},
		{Name: StepFirstToken, Fn: textStep(FirstToken)},
		{Name: StepDropDecimalSuffix, Applies: fromSource(models.SourceEPA), Fn: textStep(DropDecimalSuffix)},
		{Name: StepDropDecimalPrefix, Applies: fromSource(models.SourceEPA), Fn: textStep(DropDecimalPrefix)},
		{Name: StepRemoveSeparators, Fn: textStep(RemoveSeparators)},
	}
}

// ModelPipeline applies an ordered list of ModelSteps to a record's working
// model string.
type ModelPipeline struct {
	steps  []ModelStep
	logger logger.Logger
}

// NewModelPipeline creates a pipeline; nil steps selects DefaultModelSteps
func NewModelPipeline(steps []ModelStep) *ModelPipeline {
	if steps == nil {
		steps = DefaultModelSteps()
	}
	return &ModelPipeline{
		steps:  steps,
		logger: logger.GetGlobalLogger().WithComponent("model_pipeline"),
	}
}

// StepNames returns the step names in execution order
func (p *ModelPipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Apply returns the canonical model token for r, starting from r.ModelMod
func (p *ModelPipeline) Apply(r *models.VehicleRecord) string {
	value := r.ModelMod
	debug := p.logger.IsDebugEnabled()
	for _, step := range p.steps {
		result := p.run(step, r, value)
		if debug && result.Changed() {
			p.logger.WithFields(logger.Fields{
				"record": r.String(),
				"step":   step.Name,
				"input":  result.Input,
				"output": result.Output,
			}).Debug("Model step applied")
		}
		value = result.Output
	}
	return value
}

// Trace runs every step on r and reports each step's input and output
func (p *ModelPipeline) Trace(r *models.VehicleRecord) []StepResult {
	results := make([]StepResult, 0, len(p.steps))
	value := r.ModelMod
	for _, step := range p.steps {
		result := p.run(step, r, value)
		results = append(results, result)
		value = result.Output
	}
	return results
}

func (p *ModelPipeline) run(step ModelStep, r *models.VehicleRecord, value string) StepResult {
	result := StepResult{Step: step.Name, Input: value, Output: value}
	if step.Applies != nil && !step.Applies(r) {
		result.Skipped = true
		return result
	}
	if step.Fn != nil {
		result.Output = step.Fn(r, value)
	}
	return result
}
