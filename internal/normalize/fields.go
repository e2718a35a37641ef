package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"vehicle-reconciliation-service/internal/models"
)

var firstDigits = regexp.MustCompile(`\d+`)

// Displacement rounds a displacement in liters to one decimal place, half away
// from zero. Missing or unparsable values are null, never zero.
func Displacement(s string) models.Optional {
	d, ok := parseDecimal(s)
	if !ok {
		return models.None()
	}
	return models.Some(d.Round(1).StringFixed(1))
}

// TransmissionSpeedsFromDescriptor extracts the first run of digits from a
// free-text transmission descriptor, e.g. "automatic (s6)" -> "6".
func TransmissionSpeedsFromDescriptor(s string) models.Optional {
	if s == models.Missing {
		return models.None()
	}
	digits := firstDigits.FindString(s)
	if digits == "" {
		return models.None()
	}
	return models.Some(digits)
}

// TransmissionSpeedsFromNumber stringifies a numeric speed count, "6.0" -> "6".
// Fractional or unparsable counts are null.
func TransmissionSpeedsFromNumber(s string) models.Optional {
	d, ok := parseDecimal(s)
	if !ok || !d.IsInteger() {
		return models.None()
	}
	return models.Some(strconv.FormatInt(d.IntPart(), 10))
}

// TransmissionTypeFromDescriptor classifies a free-text descriptor as automatic
// when it mentions "auto", manual otherwise. A missing descriptor is manual.
func TransmissionTypeFromDescriptor(s string) models.Optional {
	if strings.Contains(s, "auto") {
		return models.Some(TransAuto)
	}
	return models.Some(TransManual)
}

// Cylinders renders integral cylinder counts without a fraction ("6.0" -> "6").
// The missing sentinel and non-numeric text are kept as-is.
func Cylinders(s string) string {
	d, ok := parseDecimal(s)
	if !ok || !d.IsInteger() {
		return s
	}
	return strconv.FormatInt(d.IntPart(), 10)
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == models.Missing {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
