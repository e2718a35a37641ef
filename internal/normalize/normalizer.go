package normalize

import (
	"vehicle-reconciliation-service/internal/models"
	"vehicle-reconciliation-service/pkg/logger"
)

// Normalizer fills the Norm block of every record of a table
type Normalizer struct {
	vocab  *Vocabulary
	model  *ModelPipeline
	logger logger.Logger
}

// NewNormalizer creates a Normalizer. Nil arguments select the defaults.
func NewNormalizer(vocab *Vocabulary, model *ModelPipeline) *Normalizer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if model == nil {
		model = NewModelPipeline(nil)
	}
	return &Normalizer{
		vocab:  vocab,
		model:  model,
		logger: logger.GetGlobalLogger().WithComponent("normalizer"),
	}
}

// Vocabulary returns the vocabulary in use
func (n *Normalizer) Vocabulary() *Vocabulary {
	return n.vocab
}

// ModelPipeline returns the model step pipeline in use
func (n *Normalizer) ModelPipeline() *ModelPipeline {
	return n.model
}

// NormalizeTable returns a copy of t with normalized values derived from the
// cleaned ones. Cleaned values are never modified.
func (n *Normalizer) NormalizeTable(t *models.Table) *models.Table {
	out := make([]*models.VehicleRecord, len(t.Records))
	nullDispl, nullSpeeds := 0, 0
	for i, r := range t.Records {
		out[i] = n.NormalizeRecord(r)
		if !out[i].Norm.Displacement.Valid {
			nullDispl++
		}
		if !out[i].Norm.TransmissionSpeeds.Valid {
			nullSpeeds++
		}
	}

	n.logger.WithFields(logger.Fields{
		"source":            t.Source,
		"records":           len(out),
		"null_displacement": nullDispl,
		"null_speeds":       nullSpeeds,
	}).Info("Normalized table")

	return models.NewTable(t.Source, out)
}

// NormalizeRecord returns a normalized copy of r
func (n *Normalizer) NormalizeRecord(r *models.VehicleRecord) *models.VehicleRecord {
	c := r.Clone()
	src := c.Source

	c.Norm.FuelType = n.vocab.Canonical(src, models.FieldFuelType, c.FuelType)
	c.Norm.Drive = n.vocab.Canonical(src, models.FieldDrive, c.Drive)
	c.Norm.Displacement = Displacement(c.Displacement)
	c.Norm.Cylinders = Cylinders(c.Cylinders)

	switch src {
	case models.SourceEPA:
		descriptor := models.Missing
		if c.Epa != nil {
			descriptor = c.Epa.Transmission
		}
		c.Norm.TransmissionSpeeds = TransmissionSpeedsFromDescriptor(descriptor)
		c.Norm.TransmissionType = TransmissionTypeFromDescriptor(descriptor)
	default:
		c.Norm.TransmissionSpeeds = TransmissionSpeedsFromNumber(c.TransmissionSpeeds)
		if c.TransmissionType == models.Missing {
			c.Norm.TransmissionType = models.None()
		} else {
			c.Norm.TransmissionType = models.Some(
				n.vocab.Map(src, models.FieldTransmissionType, c.TransmissionType))
		}
	}

	c.Norm.Model = n.model.Apply(c)
	return c
}
