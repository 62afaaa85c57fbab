package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldDuration     = "duration_ms"
	FieldSuccess      = "success"
	FieldPaymentID    = "payment_id"
	FieldPayerID      = "payer_id"
	FieldItemID       = "item_id"
	FieldAbonoID      = "abono_id"
	FieldInvoiceID    = "invoice_id"
	FieldAmountCents  = "amount_cents"
	FieldTotalCents   = "total_cents"
	FieldStatus       = "status"
	FieldFromStatus   = "from_status"
	FieldDocumentType = "document_type"
	FieldSeries       = "series"
	FieldNumber       = "number"
	FieldResponseCode = "response_code"
	FieldPeriod       = "period"
	FieldMessageID    = "message_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentCLI       = "cli"
	ComponentLedger    = "ledger"
	ComponentGoals     = "goals"
	ComponentInvoicing = "invoicing"
	ComponentCalendar  = "calendar"
	ComponentGateway   = "gateway"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpAppend    = "append"
	OpIssue     = "issue"
	OpVoid      = "void"
	OpRetry     = "retry"
	OpReconcile = "reconcile"
	OpEvaluate  = "evaluate"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPayment adds payment identity fields
func (f LogFields) WithPayment(paymentID, payerID, itemID string) LogFields {
	f[FieldPaymentID] = paymentID
	if payerID != "" {
		f[FieldPayerID] = payerID
	}
	if itemID != "" {
		f[FieldItemID] = itemID
	}
	return f
}

// WithAmount adds an amount in cents
func (f LogFields) WithAmount(cents int64) LogFields {
	f[FieldAmountCents] = cents
	return f
}

// WithInvoice adds invoice fields
func (f LogFields) WithInvoice(invoiceID, documentType, status string) LogFields {
	f[FieldInvoiceID] = invoiceID
	f[FieldDocumentType] = documentType
	f[FieldStatus] = status
	return f
}

// With adds an arbitrary field
func (f LogFields) With(key string, value any) LogFields {
	f[key] = value
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
