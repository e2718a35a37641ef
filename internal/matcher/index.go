package matcher

import (
	"strings"

	"vehicle-reconciliation-service/internal/models"
)

// keySeparator cannot occur in cleaned cell values
const keySeparator = "\x1f"

// KeyOf encodes the values of fields on r as a single comparable key. Null
// normalized values share models.NullKey and therefore compare equal.
func KeyOf(r *models.VehicleRecord, fields []models.Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString(keySeparator)
		}
		b.WriteString(r.Value(f))
	}
	return b.String()
}

// RecordIndex is a hash index of records on one key specification
type RecordIndex struct {
	Spec    KeySpec
	entries map[string][]*models.VehicleRecord
	size    int
}

// NewRecordIndex indexes every record of t on spec
func NewRecordIndex(t *models.Table, spec KeySpec) *RecordIndex {
	index := &RecordIndex{
		Spec:    spec,
		entries: make(map[string][]*models.VehicleRecord, t.Len()),
	}
	for _, r := range t.Records {
		key := KeyOf(r, spec.Fields)
		index.entries[key] = append(index.entries[key], r)
		index.size++
	}
	return index
}

// Lookup returns the indexed records whose key equals r's key, in table order
func (ri *RecordIndex) Lookup(r *models.VehicleRecord) []*models.VehicleRecord {
	return ri.entries[KeyOf(r, ri.Spec.Fields)]
}

// Keys returns the number of distinct keys
func (ri *RecordIndex) Keys() int {
	return len(ri.entries)
}

// Size returns the number of indexed records
func (ri *RecordIndex) Size() int {
	return ri.size
}

// LargestBucket returns the size of the most populated key
func (ri *RecordIndex) LargestBucket() int {
	largest := 0
	for _, records := range ri.entries {
		if len(records) > largest {
			largest = len(records)
		}
	}
	return largest
}
