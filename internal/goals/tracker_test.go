package goals_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagos/internal/core"
	"pagos/internal/goals"
	"pagos/internal/ledger"
	"pagos/internal/log"
	"pagos/internal/storage/memory"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

// seed creates a fully paid SINGLE payment for item, paid at paidAt.
func seed(t *testing.T, svc *ledger.Service, item string, cents int64, paidAt time.Time) {
	t.Helper()
	ctx := context.Background()
	p, err := svc.CreatePayment(ctx, ledger.NewPayment{
		PayerID: "payer-1",
		ItemID:  item,
		Total:   core.Money{Cents: cents},
	})
	require.NoError(t, err)
	_, err = svc.RecordAbono(ctx, ledger.NewAbono{
		PaymentID: p.ID,
		Amount:    core.Money{Cents: cents},
		PaidAt:    paidAt,
		Method:    ledger.MethodCash,
	})
	require.NoError(t, err)
}

func newTracker(t *testing.T, now time.Time) (*goals.Tracker, *ledger.Service) {
	t.Helper()
	store := memory.New()
	clock := core.NewFixedClock(now)
	svc := ledger.NewService(store, clock, ledger.Options{Logger: quietLogger()})
	return goals.NewTracker(store, store, clock, time.UTC, quietLogger()), svc
}

func TestTracker_EvaluateMonth(t *testing.T) {
	ctx := context.Background()
	// 2025-04 has 30 days; day 10 is elapsed.
	tracker, svc := newTracker(t, time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC))
	period := core.Period{Year: 2025, Month: time.April}

	ev, err := tracker.EvaluateMonth(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, goals.StateNoGoal, ev.State)

	_, err = tracker.SetMonthlyGoal(ctx, period, core.Money{Cents: 100000})
	require.NoError(t, err)

	seed(t, svc, "course-a", 30000, time.Date(2025, 4, 3, 9, 0, 0, 0, time.UTC))
	seed(t, svc, "course-b", 10000, time.Date(2025, 4, 8, 9, 0, 0, 0, time.UTC))
	// Outside the period: must not count.
	seed(t, svc, "course-a", 50000, time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC))

	ev, err = tracker.EvaluateMonth(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), ev.Income.Cents)
	assert.Equal(t, 10, ev.ElapsedDays)
	assert.Equal(t, int64(120000), ev.Projection.Cents)
	assert.Equal(t, goals.StateOnTrack, ev.State)
	assert.Equal(t, "40", ev.CompletionPct.String())
	assert.Equal(t, int64(3000), ev.RequiredDailyAverage.Cents)

	seed(t, svc, "course-c", 60000, time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC))
	ev, err = tracker.EvaluateMonth(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, goals.StateAchieved, ev.State)
}

func TestTracker_ElapsedDays(t *testing.T) {
	tracker, _ := newTracker(t, time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, 31, tracker.ElapsedDays(core.Period{Year: 2025, Month: time.March}))
	assert.Equal(t, 10, tracker.ElapsedDays(core.Period{Year: 2025, Month: time.April}))
	assert.Equal(t, 0, tracker.ElapsedDays(core.Period{Year: 2025, Month: time.May}))
}

func TestTracker_FuturePeriodIsAtRisk(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t, time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC))
	period := core.Period{Year: 2025, Month: time.June}

	_, err := tracker.SetMonthlyGoal(ctx, period, core.Money{Cents: 5000})
	require.NoError(t, err)

	ev, err := tracker.EvaluateMonth(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, goals.StateAtRisk, ev.State)
	assert.True(t, ev.Projection.IsZero())
}

func TestTracker_CourseGoalsAreIndependent(t *testing.T) {
	ctx := context.Background()
	tracker, svc := newTracker(t, time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC))
	period := core.Period{Year: 2025, Month: time.April}

	_, err := tracker.SetCourseGoal(ctx, period, "course-a", core.Money{Cents: 20000})
	require.NoError(t, err)
	_, err = tracker.SetCourseGoal(ctx, period, "course-b", core.Money{Cents: 50000})
	require.NoError(t, err)

	seed(t, svc, "course-a", 25000, time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC))
	seed(t, svc, "course-b", 5000, time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC))

	evs, err := tracker.EvaluateCourses(ctx, period)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "course-a", evs[0].ItemID)
	assert.Equal(t, goals.StateAchieved, evs[0].State)
	assert.Equal(t, "course-b", evs[1].ItemID)
	assert.Equal(t, goals.StateAtRisk, evs[1].State)

	// No monthly goal was set.
	month, err := tracker.EvaluateMonth(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, goals.StateNoGoal, month.State)
	assert.Equal(t, int64(30000), month.Income.Cents)

	ev, err := tracker.EvaluateCourse(ctx, period, "course-z")
	require.NoError(t, err)
	assert.Equal(t, goals.StateNoGoal, ev.State)

	require.NoError(t, tracker.DeleteCourseGoal(ctx, period, "course-b"))
	goalsLeft, err := tracker.CourseGoals(ctx, period)
	require.NoError(t, err)
	assert.Len(t, goalsLeft, 1)
}

func TestTracker_GoalValidation(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t, time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC))

	_, err := tracker.SetMonthlyGoal(ctx, core.Period{Year: 2025, Month: time.April}, core.Money{})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = tracker.SetMonthlyGoal(ctx, core.Period{Year: 2025, Month: 13}, core.Money{Cents: 100})
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)

	_, err = tracker.SetCourseGoal(ctx, core.Period{Year: 2025, Month: time.April}, "  ", core.Money{Cents: 100})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
