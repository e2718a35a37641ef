package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vehicle-reconciliation-service/cmd/reconciler/config"
	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/internal/normalize"
	"vehicle-reconciliation-service/pkg/errors"
)

// Flags for the normalize command
var (
	normalizeSource string
	normalizeField  string
	normalizeValue  string
	normalizeMake   string
)

// normalizeCmd shows how one cell value is canonicalized
var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Show how a single catalog value is normalized",
	Long: `Normalize runs one raw cell value through the same cleaning and
canonicalization used by reconcile and prints the result. For the model field
every model step is listed with its input and output.

Fields: model, fuelType1, drive, trany (epa), transmission_type (vin),
transmission_speeds (vin), displ, cylinders.

Examples:
  reconciler normalize --source vin --make mazda --value "Mazda3"
  reconciler normalize --source epa --value "Cooper John Cooper Works 2.0"
  reconciler normalize --source epa --field trany --value "Automatic (S6)"
  reconciler normalize --source vin --field drive --value "AWD/All-Wheel Drive"`,
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	normalizeCmd.Flags().StringVarP(&normalizeSource, "source", "s", "vin", "catalog the value comes from: epa, vin")
	normalizeCmd.Flags().StringVar(&normalizeField, "field", string(models.FieldModel), "field to normalize")
	normalizeCmd.Flags().StringVar(&normalizeValue, "value", "", "raw cell value (required)")
	normalizeCmd.Flags().StringVar(&normalizeMake, "make", "", "record make, used by brand-specific model steps")

	normalizeCmd.MarkFlagRequired("value")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	source := models.Source(strings.ToLower(normalizeSource))
	if !source.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "source", normalizeSource,
			fmt.Errorf("source must be epa or vin"))
	}

	vocab := normalize.DefaultVocabulary()
	if path := viper.GetString(config.KeyVocabularyFile); path != "" {
		loaded, err := normalize.LoadVocabularyFile(path)
		if err != nil {
			return err
		}
		vocab = loaded
	}
	normalizer := normalize.NewNormalizer(vocab, nil)

	record, err := newNormalizeRecord(source, normalizeField, normalizeValue, normalizeMake)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if normalizeField == string(models.FieldModel) {
		trace := normalizer.ModelPipeline().Trace(record)
		rows := make([][]string, 0, len(trace))
		for _, step := range trace {
			status := "changed"
			switch {
			case step.Skipped:
				status = "skipped"
			case !step.Changed():
				status = "unchanged"
			}
			rows = append(rows, []string{step.Step, step.Input, step.Output, status})
		}
		fmt.Fprintln(out, renderTable([]string{"Step", "Input", "Output", "Status"}, rows, nil))
		fmt.Fprintf(out, "model_mod: %s\n", normalizer.ModelPipeline().Apply(record))
		return nil
	}

	normalized := normalizer.NormalizeRecord(record)
	rows := [][]string{{"raw", normalizeValue}}
	for _, f := range normalizedFields(source, normalizeField) {
		rows = append(rows, []string{string(f), displayValue(normalized, f)})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}

// newNormalizeRecord builds a record holding one cleaned value
func newNormalizeRecord(source models.Source, field, value, vehicleMake string) (*models.VehicleRecord, error) {
	cleaned := normalize.CleanText(value)
	if source == models.SourceVIN {
		cleaned = normalize.CollapseDuplicates(cleaned)
	}

	r := &models.VehicleRecord{
		Source:             source,
		Make:               normalize.CleanText(vehicleMake),
		Model:              models.Missing,
		Year:               models.Missing,
		FuelType:           models.Missing,
		Drive:              models.Missing,
		TransmissionType:   models.Missing,
		TransmissionSpeeds: models.Missing,
		Cylinders:          models.Missing,
		Displacement:       models.Missing,
		ModelMod:           models.Missing,
	}
	if source == models.SourceEPA {
		r.Epa = &models.EpaAttributes{Transmission: models.Missing}
	} else {
		r.Vin = &models.VinAttributes{ErrorID: -1}
	}

	switch {
	case field == string(models.FieldModel):
		r.Model, r.ModelMod = cleaned, cleaned
	case field == string(models.FieldFuelType):
		r.FuelType = cleaned
	case field == string(models.FieldDrive):
		r.Drive = cleaned
	case field == "trany" && source == models.SourceEPA:
		r.Epa.Transmission = cleaned
	case field == string(models.FieldTransmissionType) && source == models.SourceVIN:
		r.TransmissionType = cleaned
	case field == string(models.FieldTransmissionSpeeds) && source == models.SourceVIN:
		r.TransmissionSpeeds = cleaned
	case field == string(models.FieldDisplacement):
		r.Displacement = cleaned
	case field == string(models.FieldCylinders):
		r.Cylinders = cleaned
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "field", field,
			fmt.Errorf("field %q cannot be normalized for source %s", field, source)).
			WithSuggestion("Use 'reconciler normalize --help' to list the fields")
	}
	return r, nil
}

// normalizedFields lists the canonical fields derived from field
func normalizedFields(source models.Source, field string) []models.Field {
	switch field {
	case string(models.FieldFuelType):
		return []models.Field{models.FieldFuelTypeNorm}
	case string(models.FieldDrive):
		return []models.Field{models.FieldDriveNorm}
	case "trany":
		return []models.Field{models.FieldTransmissionSpeedsNorm, models.FieldTransmissionTypeNorm}
	case string(models.FieldTransmissionType):
		return []models.Field{models.FieldTransmissionTypeNorm}
	case string(models.FieldTransmissionSpeeds):
		return []models.Field{models.FieldTransmissionSpeedsNorm}
	case string(models.FieldDisplacement):
		return []models.Field{models.FieldDisplacementNorm}
	default:
		return []models.Field{models.FieldCylindersNorm}
	}
}

func displayValue(r *models.VehicleRecord, f models.Field) string {
	if v := r.Value(f); v != models.NullKey {
		return v
	}
	return "(null)"
}
