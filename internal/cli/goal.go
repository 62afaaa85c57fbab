package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pagos/internal/core"
)

func newGoalCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage monthly and per-course income goals",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "set <YYYY-MM> <amount>",
			Short:   "Set the monthly income goal",
			Example: "  pagos goal set 2025-04 1000.00",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				period, target, err := parseGoalArgs(args[0], args[1])
				if err != nil {
					return err
				}
				g, err := s.app.Goals.SetMonthlyGoal(cmd.Context(), period, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Goal for %s set to %s\n", g.Period, s.app.money(g.Target))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <YYYY-MM>",
			Short: "Delete the monthly income goal",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				period, err := core.ParsePeriod(args[0])
				if err != nil {
					return err
				}
				if err := s.app.Goals.DeleteMonthlyGoal(cmd.Context(), period); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Goal for %s deleted\n", period)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [YYYY-MM]",
			Short: "Evaluate the monthly goal and every course goal (default: this month)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				period := core.PeriodOf(s.app.Today())
				if len(args) == 1 {
					var err error
					if period, err = core.ParsePeriod(args[0]); err != nil {
						return err
					}
				}
				month, err := s.app.Goals.EvaluateMonth(cmd.Context(), period)
				if err != nil {
					return err
				}
				courses, err := s.app.Goals.EvaluateCourses(cmd.Context(), period)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				s.app.printEvaluation(out, "month", month)
				for _, c := range courses {
					s.app.printEvaluation(out, c.ItemID, c.Evaluation)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "course-set <YYYY-MM> <item-id> <amount>",
			Short:   "Set an income goal for one course or service",
			Example: "  pagos goal course-set 2025-04 curso-go 400.00",
			Args:    cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				period, target, err := parseGoalArgs(args[0], args[2])
				if err != nil {
					return err
				}
				g, err := s.app.Goals.SetCourseGoal(cmd.Context(), period, args[1], target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Goal for %s in %s set to %s\n", g.ItemID, g.Period, s.app.money(g.Target))
				return nil
			},
		},
		&cobra.Command{
			Use:   "course-delete <YYYY-MM> <item-id>",
			Short: "Delete a course goal",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				period, err := core.ParsePeriod(args[0])
				if err != nil {
					return err
				}
				if err := s.app.Goals.DeleteCourseGoal(cmd.Context(), period, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Goal for %s in %s deleted\n", args[1], period)
				return nil
			},
		},
		&cobra.Command{
			Use:   "courses <YYYY-MM>",
			Short: "List course goals for a month",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				period, err := core.ParsePeriod(args[0])
				if err != nil {
					return err
				}
				list, err := s.app.Goals.CourseGoals(cmd.Context(), period)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ITEM\tTARGET")
				for _, g := range list {
					fmt.Fprintf(tw, "%s\t%s\n", g.ItemID, s.app.money(g.Target))
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func parseGoalArgs(periodArg, amountArg string) (core.Period, core.Money, error) {
	period, err := core.ParsePeriod(periodArg)
	if err != nil {
		return core.Period{}, core.Money{}, err
	}
	target, err := core.ParseMoney(amountArg)
	if err != nil {
		return core.Period{}, core.Money{}, fmt.Errorf("invalid amount: %w", err)
	}
	return period, target, nil
}
