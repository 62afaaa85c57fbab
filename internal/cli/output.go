package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pagos/internal/core"
	"pagos/internal/goals"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (a *App) money(m core.Money) string {
	return m.Format(a.Config.CurrencySymbol)
}

func (a *App) printPayment(w io.Writer, p ledger.Payment, st ledger.Status) {
	fmt.Fprintf(w, "Payment   %s\n", p.ID)
	fmt.Fprintf(w, "Payer     %s\n", p.PayerID)
	fmt.Fprintf(w, "Item      %s\n", p.ItemID)
	fmt.Fprintf(w, "Plan      %s", p.Plan)
	if p.Plan == ledger.PlanInstallments {
		fmt.Fprintf(w, " (%d, %s)", p.InstallmentCount, p.Cadence)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total     %s\n", a.money(p.Total))
	fmt.Fprintf(w, "Paid      %s\n", a.money(p.AmountPaid()))
	fmt.Fprintf(w, "Status    %s\n", st)
	if !st.NextDue.IsZero() {
		fmt.Fprintf(w, "Next due  %s (installment %d)\n", st.NextDue, st.Current)
	}
	if p.IsCancelled() {
		fmt.Fprintf(w, "Cancelled %s %s\n", p.CancelledAt.Format(time.RFC3339), p.CancelReason)
	}

	today := a.Today()
	pending := p.Pending()
	tw := newTable(w)
	fmt.Fprintln(tw, "\n#\tDUE\tAMOUNT\tPENDING\tSTATE")
	for i, inst := range p.Installments {
		state, partial := ledger.InstallmentState(inst, pending[i], today)
		label := string(state)
		if partial {
			label += "+PARTIAL"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", inst.Sequence, inst.DueDate, a.money(inst.Amount), a.money(pending[i]), label)
	}
	tw.Flush()

	if len(p.Abonos) > 0 {
		tw = newTable(w)
		fmt.Fprintln(tw, "\nABONO\tPAID AT\tAMOUNT\tMETHOD\tREFERENCE")
		for _, ab := range p.Abonos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ab.ID, ab.PaidAt.Format(time.RFC3339), a.money(ab.Amount), ab.Method, ab.ExternalReference)
		}
		tw.Flush()
	}
}

func (a *App) printInvoice(w io.Writer, inv invoicing.Invoice) {
	number := "-"
	if inv.Number > 0 {
		number = fmt.Sprintf("%s-%08d", inv.Series, inv.Number)
	}
	fmt.Fprintf(w, "Invoice   %s\n", inv.ID)
	fmt.Fprintf(w, "Payment   %s\n", inv.PaymentID)
	fmt.Fprintf(w, "Document  %s %s\n", inv.DocumentType, number)
	fmt.Fprintf(w, "Payer     %s %s\n", inv.Payer.TaxID, inv.Payer.LegalName)
	fmt.Fprintf(w, "Subtotal  %s\n", a.money(inv.Subtotal))
	fmt.Fprintf(w, "Tax       %s\n", a.money(inv.TaxAmount))
	fmt.Fprintf(w, "Total     %s\n", a.money(inv.Total))
	fmt.Fprintf(w, "Status    %s\n", inv.Status)
	if inv.GatewayResponseCode != "" {
		fmt.Fprintf(w, "Gateway   %s %s\n", inv.GatewayResponseCode, inv.GatewayDescription)
	}
	if inv.PDFURL != "" {
		fmt.Fprintf(w, "PDF       %s\n", inv.PDFURL)
	}
}

func (a *App) printInvoices(w io.Writer, invs []invoicing.Invoice) {
	tw := newTable(w)
	fmt.Fprintln(tw, "INVOICE\tPAYMENT\tDOCUMENT\tNUMBER\tTOTAL\tSTATUS\tUPDATED")
	for _, inv := range invs {
		number := "-"
		if inv.Number > 0 {
			number = fmt.Sprintf("%s-%08d", inv.Series, inv.Number)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, inv.PaymentID, inv.DocumentType, number, a.money(inv.Total), inv.Status, inv.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func (a *App) printEvaluation(w io.Writer, label string, e goals.Evaluation) {
	if !e.HasGoal() {
		fmt.Fprintf(w, "%s  %s  no goal, income %s\n", label, e.Period, a.money(e.Income))
		return
	}
	fmt.Fprintf(w, "%s  %s  %s\n", label, e.Period, e.State)
	tw := newTable(w)
	fmt.Fprintf(tw, "  target\t%s\n", a.money(e.Target))
	fmt.Fprintf(tw, "  income\t%s (%s%%)\n", a.money(e.Income), e.CompletionPct.StringFixed(1))
	fmt.Fprintf(tw, "  projection\t%s\n", a.money(e.Projection))
	fmt.Fprintf(tw, "  days\t%d of %d, %d remaining\n", e.ElapsedDays, e.TotalDays, e.RemainingDays)
	if e.RequiredDailyAverage.IsPositive() {
		fmt.Fprintf(tw, "  required per day\t%s\n", a.money(e.RequiredDailyAverage))
	}
	tw.Flush()
}
