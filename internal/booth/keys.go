package booth

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// YearRange bounds accepted years inclusively. A nil bound is not enforced.
type YearRange struct {
	Min *int
	Max *int
}

// Between returns a range with both bounds set.
func Between(lo, hi int) YearRange {
	return YearRange{Min: &lo, Max: &hi}
}

// Contains reports whether year lies within the configured bounds.
func (r YearRange) Contains(year int) bool {
	if r.Min != nil && year < *r.Min {
		return false
	}
	if r.Max != nil && year > *r.Max {
		return false
	}
	return true
}

func (r YearRange) String() string {
	var lo, hi string
	if r.Min != nil {
		lo = strconv.Itoa(*r.Min)
	}
	if r.Max != nil {
		hi = strconv.Itoa(*r.Max)
	}
	return lo + ".." + hi
}

// NormalizeLocation returns the cache key for a location: trimmed,
// inner whitespace collapsed, NFC-composed and case-folded.
func NormalizeLocation(location string) string {
	collapsed := strings.Join(strings.Fields(location), " ")
	return cases.Fold().String(norm.NFC.String(collapsed))
}

// YearBucket rounds year down to the nearest multiple of five.
func YearBucket(year int) int {
	bucket := year / 5 * 5
	if year < 0 && year%5 != 0 {
		bucket -= 5
	}
	return bucket
}

func (s *Service) validate(year int, location string) error {
	if !s.years.Contains(year) {
		return fmt.Errorf("%w: year %d outside %s", ErrInvalidInput, year, s.years)
	}
	if strings.TrimSpace(location) == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) persona(p Persona) Persona {
	if p.Valid() {
		return p
	}
	return s.defaultPersona
}
