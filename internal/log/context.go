package log

import (
	"context"
	"log/slog"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// IntoContext returns a context carrying logger.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger provides structured logging methods with context awareness
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// LogAbonoRecorded logs a successfully recorded abono
func (sl *StructuredLogger) LogAbonoRecorded(ctx context.Context, paymentID, abonoID string, amountCents int64, status string) {
	fields := NewFields().
		WithPayment(paymentID, "", "").
		WithAmount(amountCents).
		With(FieldAbonoID, abonoID).
		With(FieldStatus, status).
		WithOperation(OpAppend)

	sl.logger.WithComponent(ComponentLedger).InfoContext(ctx, "Abono recorded", fields.ToSlice()...)
}

// LogInvoiceTransition logs an invoice status change. Rejections log at warn level.
func (sl *StructuredLogger) LogInvoiceTransition(ctx context.Context, invoiceID, documentType, from, to, responseCode string) {
	fields := NewFields().
		WithInvoice(invoiceID, documentType, to).
		With(FieldFromStatus, from)
	if responseCode != "" {
		fields = fields.With(FieldResponseCode, responseCode)
	}

	l := sl.logger.WithComponent(ComponentInvoicing)
	if to == "REJECTED" {
		l.WarnContext(ctx, "Invoice transition", fields.ToSlice()...)
		return
	}
	l.InfoContext(ctx, "Invoice transition", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	allFields := fields.
		WithError(err).
		WithOperation(operation)

	sl.logger.WithComponent(component).ErrorContext(ctx, msg, allFields.ToSlice()...)
}
