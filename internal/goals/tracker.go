package goals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pagos/internal/core"
	"pagos/internal/log"
)

// MonthlyGoal is the overall revenue target for a period.
type MonthlyGoal struct {
	Period    core.Period
	Target    core.Money
	UpdatedAt time.Time
}

// CourseGoal is a revenue target for one item within a period. Course goals
// are independent of the period's MonthlyGoal.
type CourseGoal struct {
	Period    core.Period
	ItemID    string
	Target    core.Money
	UpdatedAt time.Time
}

// Store persists goals. Upserts overwrite; deleting a missing goal is not an error.
type Store interface {
	UpsertMonthlyGoal(ctx context.Context, g MonthlyGoal) error
	DeleteMonthlyGoal(ctx context.Context, period core.Period) error
	LoadMonthlyGoal(ctx context.Context, period core.Period) (MonthlyGoal, bool, error)
	UpsertCourseGoal(ctx context.Context, g CourseGoal) error
	DeleteCourseGoal(ctx context.Context, period core.Period, itemID string) error
	ListCourseGoals(ctx context.Context, period core.Period) ([]CourseGoal, error)
}

// IncomeReader sums abonos paid in [from, to), grouped by item.
type IncomeReader interface {
	IncomeBetween(ctx context.Context, from, to time.Time) ([]core.ItemAmount, error)
}

// CourseEvaluation pairs an item with its evaluation.
type CourseEvaluation struct {
	ItemID string
	Evaluation
}

// Tracker evaluates goals against ledger income as of the injected clock.
type Tracker struct {
	goals  Store
	income IncomeReader
	clock  core.Clock
	loc    *time.Location
	logger *log.Logger
}

func NewTracker(goals Store, income IncomeReader, clock core.Clock, loc *time.Location, logger *log.Logger) *Tracker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default(log.ComponentGoals)
	}
	return &Tracker{
		goals:  goals,
		income: income,
		clock:  clock,
		loc:    loc,
		logger: logger.WithComponent(log.ComponentGoals),
	}
}

func (t *Tracker) SetMonthlyGoal(ctx context.Context, period core.Period, target core.Money) (MonthlyGoal, error) {
	if err := validateGoal(period, target); err != nil {
		return MonthlyGoal{}, err
	}
	g := MonthlyGoal{Period: period, Target: target, UpdatedAt: t.clock.Now()}
	if err := t.goals.UpsertMonthlyGoal(ctx, g); err != nil {
		return MonthlyGoal{}, fmt.Errorf("upsert monthly goal: %w", err)
	}
	t.logger.InfoContext(ctx, "Monthly goal set", log.FieldPeriod, period.String(), log.FieldAmountCents, target.Cents)
	return g, nil
}

func (t *Tracker) DeleteMonthlyGoal(ctx context.Context, period core.Period) error {
	if err := period.Validate(); err != nil {
		return err
	}
	if err := t.goals.DeleteMonthlyGoal(ctx, period); err != nil {
		return fmt.Errorf("delete monthly goal: %w", err)
	}
	return nil
}

func (t *Tracker) MonthlyGoal(ctx context.Context, period core.Period) (MonthlyGoal, bool, error) {
	return t.goals.LoadMonthlyGoal(ctx, period)
}

func (t *Tracker) SetCourseGoal(ctx context.Context, period core.Period, itemID string, target core.Money) (CourseGoal, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CourseGoal{}, core.Invalid(core.ErrInvalidInput, "item_id", "required")
	}
	if err := validateGoal(period, target); err != nil {
		return CourseGoal{}, err
	}
	g := CourseGoal{Period: period, ItemID: itemID, Target: target, UpdatedAt: t.clock.Now()}
	if err := t.goals.UpsertCourseGoal(ctx, g); err != nil {
		return CourseGoal{}, fmt.Errorf("upsert course goal: %w", err)
	}
	t.logger.InfoContext(ctx, "Course goal set",
		log.FieldPeriod, period.String(), log.FieldItemID, itemID, log.FieldAmountCents, target.Cents)
	return g, nil
}

func (t *Tracker) DeleteCourseGoal(ctx context.Context, period core.Period, itemID string) error {
	if err := period.Validate(); err != nil {
		return err
	}
	if err := t.goals.DeleteCourseGoal(ctx, period, strings.TrimSpace(itemID)); err != nil {
		return fmt.Errorf("delete course goal: %w", err)
	}
	return nil
}

func (t *Tracker) CourseGoals(ctx context.Context, period core.Period) ([]CourseGoal, error) {
	return t.goals.ListCourseGoals(ctx, period)
}

// Income sums the abonos paid within period in the business timezone.
func (t *Tracker) Income(ctx context.Context, period core.Period) (core.IncomeSummary, error) {
	from := time.Date(period.Year, period.Month, 1, 0, 0, 0, 0, t.loc)
	to := from.AddDate(0, 1, 0)
	byItem, err := t.income.IncomeBetween(ctx, from, to)
	if err != nil {
		return core.IncomeSummary{}, fmt.Errorf("income for %s: %w", period, err)
	}
	summary := core.IncomeSummary{Period: period, ByItem: byItem}
	for _, ia := range byItem {
		summary.Total = summary.Total.Add(ia.Amount)
	}
	return summary, nil
}

// ElapsedDays counts the days of period up to and including today: all of
// them for past periods, none for future ones.
func (t *Tracker) ElapsedDays(period core.Period) int {
	today := core.Today(t.clock, t.loc)
	switch period.Compare(core.PeriodOf(today)) {
	case -1:
		return period.Days()
	case 1:
		return 0
	default:
		return today.Day()
	}
}

// EvaluateMonth evaluates the period's MonthlyGoal against total income.
func (t *Tracker) EvaluateMonth(ctx context.Context, period core.Period) (Evaluation, error) {
	if err := period.Validate(); err != nil {
		return Evaluation{}, err
	}
	goal, _, err := t.goals.LoadMonthlyGoal(ctx, period)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load monthly goal: %w", err)
	}
	income, err := t.Income(ctx, period)
	if err != nil {
		return Evaluation{}, err
	}
	ev := Evaluate(EvaluationInput{
		Period:      period,
		Target:      goal.Target,
		Income:      income.Total,
		ElapsedDays: t.ElapsedDays(period),
		TotalDays:   period.Days(),
	})
	t.logger.DebugContext(ctx, "Monthly goal evaluated",
		log.FieldPeriod, period.String(), log.FieldStatus, string(ev.State), "completion_pct", ev.CompletionPct.String())
	return ev, nil
}

// EvaluateCourse evaluates one item's CourseGoal. A missing goal yields NO_GOAL.
func (t *Tracker) EvaluateCourse(ctx context.Context, period core.Period, itemID string) (Evaluation, error) {
	evs, err := t.evaluateCourses(ctx, period, []string{itemID})
	if err != nil {
		return Evaluation{}, err
	}
	return evs[0].Evaluation, nil
}

// EvaluateCourses evaluates every CourseGoal of the period.
func (t *Tracker) EvaluateCourses(ctx context.Context, period core.Period) ([]CourseEvaluation, error) {
	return t.evaluateCourses(ctx, period, nil)
}

func (t *Tracker) evaluateCourses(ctx context.Context, period core.Period, only []string) ([]CourseEvaluation, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	goals, err := t.goals.ListCourseGoals(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list course goals: %w", err)
	}
	income, err := t.Income(ctx, period)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]core.Money, len(goals))
	items := make([]string, 0, len(goals))
	for _, g := range goals {
		targets[g.ItemID] = g.Target
		items = append(items, g.ItemID)
	}
	if only != nil {
		items = only
	}

	elapsed := t.ElapsedDays(period)
	out := make([]CourseEvaluation, 0, len(items))
	for _, item := range items {
		out = append(out, CourseEvaluation{
			ItemID: item,
			Evaluation: Evaluate(EvaluationInput{
				Period:      period,
				Target:      targets[item],
				Income:      income.ForItem(item),
				ElapsedDays: elapsed,
				TotalDays:   period.Days(),
			}),
		})
	}
	return out, nil
}

func validateGoal(period core.Period, target core.Money) error {
	if err := period.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return core.Invalid(core.ErrInvalidAmount, "target", "must be positive, got %d", target.Cents)
	}
	return nil
}
