// Package tax holds the pure tax computation and the input rules shared by
// the HTTP layer and the batch coordinator.
package tax

import (
	"fmt"
	"math"
	"time"

	"github.com/arpitdalal/tax-calculator/internal/domain"
)

// Validate checks the bracket invariants: at least one bracket, thresholds
// ascending from zero, max above min where present, rates within [0, 1].
func Validate(s domain.BracketSchedule) error {
	if len(s.Brackets) == 0 {
		return fmt.Errorf("%w: no brackets for year %d", domain.ErrMalformedSchedule, s.Year)
	}
	if s.Brackets[0].Min != 0 {
		return fmt.Errorf("%w: first bracket starts at %v, want 0", domain.ErrMalformedSchedule, s.Brackets[0].Min)
	}
	for i, b := range s.Brackets {
		if i > 0 && b.Min <= s.Brackets[i-1].Min {
			return fmt.Errorf("%w: bracket %d min %v does not increase", domain.ErrMalformedSchedule, i, b.Min)
		}
		if b.Max != nil && *b.Max <= b.Min {
			return fmt.Errorf("%w: bracket %d max %v not above min %v", domain.ErrMalformedSchedule, i, *b.Max, b.Min)
		}
		if b.Rate < 0 || b.Rate > 1 {
			return fmt.Errorf("%w: bracket %d rate %v outside [0, 1]", domain.ErrMalformedSchedule, i, b.Rate)
		}
	}
	return nil
}

// Compute applies the marginal schedule to a salary. Each bracket taxes
// the portion of salary between its min and max; per-bracket amounts and
// the total are rounded to cents, the effective rate to two decimals of a
// percent.
func Compute(salary float64, schedule domain.BracketSchedule) (domain.CalculationResult, error) {
	if err := Validate(schedule); err != nil {
		return domain.CalculationResult{}, err
	}

	res := domain.CalculationResult{
		Salary:     round2(salary),
		Year:       schedule.Year,
		ComputedAt: time.Now().UTC(),
	}

	var total float64
	for _, b := range schedule.Brackets {
		if salary <= b.Min {
			break
		}
		upper := salary
		if b.Max != nil && *b.Max < salary {
			upper = *b.Max
		}
		amount := round2((upper - b.Min) * b.Rate)
		total += amount
		res.PerBracket = append(res.PerBracket, domain.BracketTax{
			Min:  b.Min,
			Max:  b.Max,
			Rate: round2(b.Rate * 100),
			Tax:  amount,
		})
	}

	res.Tax = round2(total)
	if salary > 0 {
		res.EffectiveRate = round2(total / salary * 100)
	}
	return res, nil
}

// ZeroResult is the outcome for a zero salary. Zero salary owes zero tax
// under every schedule, so no bracket lookup is needed.
func ZeroResult(year int) domain.CalculationResult {
	return domain.CalculationResult{Year: year, ComputedAt: time.Now().UTC()}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
