package tax

import (
	"math"
	"strconv"
	"strings"

	"github.com/arpitdalal/tax-calculator/internal/domain"
)

// salaryCleaner strips the separators people paste in from spreadsheets.
var salaryCleaner = strings.NewReplacer(",", "", " ", "", "_", "")

// ParseSalary converts a user-supplied salary string, tolerating comma,
// space and underscore separators.
func ParseSalary(raw string) (float64, error) {
	cleaned := salaryCleaner.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return 0, domain.NewValidationError("salary is required")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, domain.NewValidationError("salary must be a valid number, got %q", raw)
	}
	return v, nil
}

// CheckSalary rejects values a salary can never be.
func CheckSalary(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.NewValidationError("salary must be a finite number")
	}
	if v < 0 {
		return domain.NewValidationError("salary must be a non-negative number")
	}
	return nil
}

// Years is the supported tax-year range. Requests without a year use
// Default.
type Years struct {
	Min     int
	Max     int
	Default int
}

// Check rejects years outside the supported range.
func (y Years) Check(year int) error {
	if year < y.Min || year > y.Max {
		return domain.NewValidationError("tax year must be between %d and %d, got %d", y.Min, y.Max, year)
	}
	return nil
}

// ParseYear converts a user-supplied year string.
func ParseYear(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.NewValidationError("tax year must be a valid integer, got %q", raw)
	}
	return v, nil
}
