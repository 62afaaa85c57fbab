package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pagos/internal/calendar"
	"pagos/internal/core"
)

func newCalendarCommand(s *session) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show installments grouped by due date",
		Long: `Show every installment due between --from and --to, one block per day,
with the day coloured by its worst state (OVERDUE, then PENDING, then PAID).`,
		Example: `  pagos calendar --from 2025-05-01 --to 2025-05-31`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			today := s.app.Today()
			start := today
			var err error
			if from != "" {
				if start, err = core.ParseDate(from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			end := start.AddDays(30)
			if to != "" {
				if end, err = core.ParseDate(to); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}

			days, err := s.app.Calendar.Range(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			empty := true
			for date, entries := range days {
				empty = false
				fmt.Fprintf(out, "%s  %s\n", date, calendar.DayState(entries))
				tw := newTable(out)
				for _, e := range entries {
					state := string(e.State)
					if e.Partial {
						state += "+PARTIAL"
					}
					fmt.Fprintf(tw, "  %s\t%s\t#%d\t%s\t%s pending\t%s\n",
						e.PayerID, e.ItemID, e.Sequence, s.app.money(e.Amount), s.app.money(e.Pending), state)
				}
				tw.Flush()
			}
			if empty {
				fmt.Fprintf(out, "Nothing due between %s and %s\n", start, end)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&to, "to", "", "last day YYYY-MM-DD (default: 30 days after --from)")
	return cmd
}
