// Package goals tracks monthly revenue targets (metas), overall and per
// course or service, and classifies progress against them.
package goals

import (
	"github.com/shopspring/decimal"

	"pagos/internal/core"
)

// State classifies progress towards a target.
type State string

const (
	StateOnTrack  State = "ON_TRACK"
	StateAtRisk   State = "AT_RISK"
	StateAchieved State = "ACHIEVED"
	StateNoGoal   State = "NO_GOAL"
)

// EvaluationInput is everything Evaluate needs; it reads no clock or store.
type EvaluationInput struct {
	Period      core.Period
	Target      core.Money
	Income      core.Money
	ElapsedDays int
	TotalDays   int
}

// Evaluation is the progress report for one period and target.
type Evaluation struct {
	Period               core.Period
	Target               core.Money
	Income               core.Money
	Projection           core.Money
	CompletionPct        decimal.Decimal
	RequiredDailyAverage core.Money
	ElapsedDays          int
	TotalDays            int
	RemainingDays        int
	State                State
}

// HasGoal reports whether a positive target was set.
func (e Evaluation) HasGoal() bool {
	return e.State != StateNoGoal
}

var hundred = decimal.NewFromInt(100)

// Evaluate projects month-end income linearly from the days elapsed and
// classifies it: ACHIEVED once income reaches the target, ON_TRACK when the
// projection reaches it, AT_RISK otherwise.
func Evaluate(in EvaluationInput) Evaluation {
	total := in.TotalDays
	if total < 1 {
		total = in.Period.Days()
	}
	elapsed := min(max(in.ElapsedDays, 0), total)
	remaining := total - elapsed

	out := Evaluation{
		Period:        in.Period,
		Target:        in.Target,
		Income:        in.Income,
		ElapsedDays:   elapsed,
		TotalDays:     total,
		RemainingDays: remaining,
		CompletionPct: decimal.Zero,
	}

	if elapsed >= 1 {
		proj := decimal.NewFromInt(in.Income.Cents).
			Mul(decimal.NewFromInt(int64(total))).
			Div(decimal.NewFromInt(int64(elapsed)))
		out.Projection = core.Money{Cents: proj.Round(0).IntPart()}
	}

	if in.Target.Cents <= 0 {
		out.State = StateNoGoal
		return out
	}

	out.CompletionPct = decimal.NewFromInt(in.Income.Cents).
		Mul(hundred).
		Div(decimal.NewFromInt(in.Target.Cents)).
		Round(2)

	gap := in.Target.Cents - in.Income.Cents
	if gap > 0 {
		perDay := decimal.NewFromInt(gap).Div(decimal.NewFromInt(int64(max(1, remaining))))
		out.RequiredDailyAverage = core.Money{Cents: perDay.Ceil().IntPart()}
	}

	// income*total >= target*elapsed compares the projection without rounding.
	switch {
	case in.Income.Cents >= in.Target.Cents:
		out.State = StateAchieved
	case elapsed >= 1 && in.Income.Cents*int64(total) >= in.Target.Cents*int64(elapsed):
		out.State = StateOnTrack
	default:
		out.State = StateAtRisk
	}
	return out
}
