package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pagos/internal/amqp"
	"pagos/internal/invoicing"
)

type payerFlags struct {
	docType, taxID, name, address, email string
}

func (f *payerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.docType, "type", string(invoicing.Boleta), "FACTURA, BOLETA, CREDIT_NOTE or DEBIT_NOTE")
	cmd.Flags().StringVar(&f.taxID, "tax-id", "", "payer tax id: 11-digit RUC for facturas, 8-digit DNI for boletas (required)")
	cmd.Flags().StringVar(&f.name, "name", "", "payer legal name (required)")
	cmd.Flags().StringVar(&f.address, "address", "", "payer fiscal address")
	cmd.Flags().StringVar(&f.email, "email", "", "address the document is sent to")
	_ = cmd.MarkFlagRequired("tax-id")
	_ = cmd.MarkFlagRequired("name")
}

func (f *payerFlags) request(paymentID string) (invoicing.IssueRequest, error) {
	doc, err := invoicing.ParseDocumentType(f.docType)
	if err != nil {
		return invoicing.IssueRequest{}, err
	}
	return invoicing.IssueRequest{
		PaymentID:    paymentID,
		DocumentType: doc,
		Payer: invoicing.PayerTaxData{
			TaxID:     f.taxID,
			LegalName: f.name,
			Address:   f.address,
			Email:     f.email,
		},
	}, nil
}

func newInvoiceCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Issue and manage fiscal documents",
	}
	cmd.AddCommand(
		newInvoiceIssueCommand(s),
		newInvoiceRequestCommand(s),
		newInvoiceVoidCommand(s),
		newInvoiceRetryCommand(s),
		newInvoiceReconcileCommand(s),
		newInvoiceListCommand(s),
		newInvoiceStaleCommand(s),
	)
	return cmd
}

func newInvoiceIssueCommand(s *session) *cobra.Command {
	var f payerFlags
	cmd := &cobra.Command{
		Use:   "issue <payment-id>",
		Short: "Issue a fiscal document for the paid amount of a payment",
		Long: `Issue a fiscal document for the amount paid so far on a payment and submit it
to the tax gateway. A payment may hold only one live FACTURA or BOLETA; void it
before issuing again.

When the gateway times out or is unavailable the invoice stays SENT; use
"invoice retry" or "invoice reconcile" once the outcome is known.`,
		Example: `  pagos invoice issue 3f0c... --type FACTURA --tax-id 20123456789 --name "Academia Andina SAC"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args[0])
			if err != nil {
				return err
			}
			inv, err := s.app.Invoicing.Issue(cmd.Context(), req)
			if inv.ID != "" {
				s.app.printInvoice(cmd.OutOrStdout(), inv)
			}
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func newInvoiceRequestCommand(s *session) *cobra.Command {
	var f payerFlags
	cmd := &cobra.Command{
		Use:   "request <payment-id>",
		Short: "Queue an invoice request for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.app.Broker == nil {
				return errors.New("invoice requests need a broker: set AMQP_URL")
			}
			req, err := f.request(args[0])
			if err != nil {
				return err
			}
			if err := s.app.Config.InvoicingConfig().TaxIDRules.Check(req.DocumentType, req.Payer.TaxID); err != nil {
				return err
			}
			msg := amqp.NewInvoiceRequest(req, s.app.Clock.Now())
			if err := s.app.Broker.PublishInvoiceRequest(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s request for payment %s\n", req.DocumentType, req.PaymentID)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newInvoiceVoidCommand(s *session) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "void <invoice-id>",
		Short: "Void an accepted invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := s.app.Invoicing.Void(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			s.app.printInvoice(cmd.OutOrStdout(), inv)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the document is annulled (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newInvoiceRetryCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <invoice-id>",
		Short: "Resubmit a SENT invoice with the same idempotency key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := s.app.Invoicing.Retry(cmd.Context(), args[0])
			if inv.ID != "" {
				s.app.printInvoice(cmd.OutOrStdout(), inv)
			}
			return err
		},
	}
}

func newInvoiceReconcileCommand(s *session) *cobra.Command {
	var (
		res      invoicing.Result
		rejected bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile <invoice-id>",
		Short: "Record an outcome obtained outside the gateway on a SENT invoice",
		Example: `  pagos invoice reconcile 9a1d... --series F001 --number 42 --code 0
  pagos invoice reconcile 9a1d... --rejected --code 2800 --description "RUC no existe"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res.Accepted = !rejected
			inv, err := s.app.Invoicing.Reconcile(cmd.Context(), args[0], res)
			if err != nil {
				return err
			}
			s.app.printInvoice(cmd.OutOrStdout(), inv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rejected, "rejected", false, "the authority rejected the document")
	cmd.Flags().StringVar(&res.Series, "series", "", "assigned series")
	cmd.Flags().Int64Var(&res.Number, "number", 0, "assigned number")
	cmd.Flags().StringVar(&res.ResponseCode, "code", "", "authority response code")
	cmd.Flags().StringVar(&res.Description, "description", "", "authority response text")
	cmd.Flags().StringVar(&res.PDFURL, "pdf-url", "", "link to the rendered document")
	cmd.Flags().StringVar(&res.XMLURL, "xml-url", "", "link to the signed XML")
	return cmd
}

func newInvoiceListCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list <payment-id>",
		Short: "List the invoices of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invs, err := s.app.Invoicing.ListByPayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s.app.printInvoices(cmd.OutOrStdout(), invs)
			return nil
		},
	}
}

func newInvoiceStaleCommand(s *session) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List SENT invoices still waiting for a gateway outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = s.app.Config.StaleInvoiceAfter
			}
			invs, err := s.app.Invoicing.ListStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			s.app.printInvoices(cmd.OutOrStdout(), invs)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum time since the last update (default: STALE_INVOICE_AFTER)")
	return cmd
}
