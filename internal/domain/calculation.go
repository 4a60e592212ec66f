package domain

import (
	"time"
)

// Bracket is a single marginal tax bracket. Max is nil on the open-ended
// top bracket.
type Bracket struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max,omitempty"`
	Rate float64  `json:"rate"`
}

// BracketSchedule is the progressive schedule for one tax year, ordered by
// ascending Min. Schedules are immutable once cached and leave the cache
// only through an explicit clear.
type BracketSchedule struct {
	Year     int
	Brackets []Bracket
}

// CalculationKey identifies one cached calculation.
type CalculationKey struct {
	Salary float64
	Year   int
}

// BracketTax is the per-bracket detail row of a calculation. Rate is a
// percentage, unlike Bracket.Rate which is a fraction.
type BracketTax struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max,omitempty"`
	Rate float64  `json:"rate"`
	Tax  float64  `json:"tax"`
}

// CalculationResult is the outcome of one tax computation. It is a pure
// function of (salary, schedule): recomputing the same key yields an
// equivalent value, so concurrent duplicate computation is harmless.
type CalculationResult struct {
	Salary        float64      `json:"salary"`
	Year          int          `json:"year"`
	Tax           float64      `json:"tax"`
	EffectiveRate float64      `json:"effective_rate"`
	PerBracket    []BracketTax `json:"taxes_per_bracket,omitempty"`
	ComputedAt    time.Time    `json:"computed_at"`
}
