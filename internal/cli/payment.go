package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pagos/internal/core"
	"pagos/internal/ledger"
)

func newPaymentCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Create, inspect and cancel payments",
	}
	cmd.AddCommand(
		newPaymentCreateCommand(s),
		newPaymentShowCommand(s),
		newPaymentListCommand(s),
		newPaymentCancelCommand(s),
	)
	return cmd
}

func newPaymentCreateCommand(s *session) *cobra.Command {
	var (
		payer, item, total, plan, firstDue, cadence string
		count                                       int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a payment obligation",
		Example: `  # One-shot payment due today (plus SINGLE_GRACE_DAYS)
  pagos payment create --payer alumno-17 --item curso-go --total 150.00

  # Three monthly installments starting on the 31st
  pagos payment create --payer alumno-17 --item curso-go --total 100 \
    --plan installments --installments 3 --first-due 2025-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseMoney(total)
			if err != nil {
				return fmt.Errorf("invalid --total: %w", err)
			}
			in := ledger.NewPayment{
				PayerID:          payer,
				ItemID:           item,
				Total:            amount,
				Plan:             ledger.PlanType(strings.ToUpper(plan)),
				InstallmentCount: count,
				Cadence:          cadence,
			}
			if firstDue != "" {
				if in.FirstDueDate, err = core.ParseDate(firstDue); err != nil {
					return fmt.Errorf("invalid --first-due: %w", err)
				}
			}

			p, err := s.app.Ledger.CreatePayment(cmd.Context(), in)
			if err != nil {
				return err
			}
			s.app.printPayment(cmd.OutOrStdout(), p, ledger.StatusOf(p, s.app.Today()))
			return nil
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "payer id (required)")
	cmd.Flags().StringVar(&item, "item", "", "course or service id (required)")
	cmd.Flags().StringVar(&total, "total", "", "total amount, e.g. 150.00 (required)")
	cmd.Flags().StringVar(&plan, "plan", "single", "single or installments")
	cmd.Flags().IntVar(&count, "installments", 0, "number of installments for --plan installments")
	cmd.Flags().StringVar(&firstDue, "first-due", "", "first due date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&cadence, "cadence", "", "daily, weekly, biweekly, monthly or yearly (default: DEFAULT_CADENCE)")
	_ = cmd.MarkFlagRequired("payer")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func newPaymentShowCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show a payment with its installments, abonos and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, st, err := s.app.Ledger.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s.app.printPayment(cmd.OutOrStdout(), p, st)
			return nil
		},
	}
}

func newPaymentListCommand(s *session) *cobra.Command {
	var payer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a payer's payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payments, err := s.app.Ledger.ListByPayer(cmd.Context(), payer)
			if err != nil {
				return err
			}
			today := s.app.Today()
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PAYMENT\tITEM\tPLAN\tTOTAL\tOUTSTANDING\tSTATUS\tCREATED")
			for _, p := range payments {
				st := ledger.StatusOf(p, today)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.ItemID, p.Plan, s.app.money(p.Total), s.app.money(st.Outstanding), st, p.CreatedAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "payer id (required)")
	_ = cmd.MarkFlagRequired("payer")
	return cmd
}

func newPaymentCancelCommand(s *session) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <payment-id>",
		Short: "Cancel a payment that has no abonos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := s.app.Ledger.CancelPayment(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Payment %s cancelled at %s\n", p.ID, p.CancelledAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func newAbonoCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abono",
		Short: "Record partial payments",
	}
	cmd.AddCommand(newAbonoRecordCommand(s))
	return cmd
}

func newAbonoRecordCommand(s *session) *cobra.Command {
	var amount, method, reference, paidAt string
	cmd := &cobra.Command{
		Use:   "record <payment-id>",
		Short: "Record an abono against a payment",
		Long: `Record an abono against a payment. The amount is applied to the oldest
pending installment first and may not exceed the outstanding balance.
Recording the same --reference twice returns the first abono.`,
		Example: `  pagos abono record 3f0c... --amount 45.50 --method CASH --reference REC-001`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			money, err := core.ParseMoney(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			m, err := ledger.ParseMethod(strings.ToUpper(method))
			if err != nil {
				return err
			}
			in := ledger.NewAbono{
				PaymentID:         args[0],
				Amount:            money,
				Method:            m,
				ExternalReference: reference,
			}
			if paidAt != "" {
				if in.PaidAt, err = parseInstant(paidAt, s.app.Config.Location()); err != nil {
					return fmt.Errorf("invalid --paid-at: %w", err)
				}
			}

			receipt, err := s.app.Ledger.RecordAbono(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if receipt.Replayed {
				fmt.Fprintf(out, "Abono %s already recorded for reference %q\n", receipt.Abono.ID, reference)
			} else {
				fmt.Fprintf(out, "Abono %s recorded: %s\n", receipt.Abono.ID, s.app.money(receipt.Abono.Amount))
				tw := newTable(out)
				for _, line := range receipt.Allocation {
					fmt.Fprintf(tw, "  installment %d\t%s applied\t%s pending\n", line.Sequence, s.app.money(line.Applied), s.app.money(line.PendingAfter))
				}
				tw.Flush()
			}
			fmt.Fprintf(out, "Status %s, outstanding %s\n", receipt.Status, s.app.money(receipt.Status.Outstanding))
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 45.50 (required)")
	cmd.Flags().StringVar(&method, "method", string(ledger.MethodCash), "CASH, CARD, TRANSFER, DIGITAL_WALLET or OTHER")
	cmd.Flags().StringVar(&reference, "reference", "", "external reference; makes the call idempotent")
	cmd.Flags().StringVar(&paidAt, "paid-at", "", "payment date YYYY-MM-DD or RFC 3339 instant (default: now)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// parseInstant accepts an RFC 3339 instant or a date, read as midnight in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}
