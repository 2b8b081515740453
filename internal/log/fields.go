package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldTraceID     = "trace_id"
	FieldActor       = "actor"
	FieldOperation   = "operation"
	FieldMonth       = "month"
	FieldAmountCents = "amount_cents"
	FieldEntryID     = "entry_id"
	FieldStatementID = "statement_id"
	FieldTrigger     = "trigger"
	FieldFiredAt     = "fired_at"
	FieldWarning     = "warning"
	FieldError       = "error"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentBot       = "bot"
	ComponentPeriod    = "period"
	ComponentScheduler = "scheduler"
	ComponentNotify    = "notify"
	ComponentHTTP      = "http"
)

// Operations defines standard operation names
const (
	OpAddEntry   = "add_entry"
	OpUndo       = "undo"
	OpPayout     = "payout"
	OpCloseMonth = "close_month"
	OpCatchUp    = "catch_up"
	OpExport     = "export"
	OpNotify     = "notify"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)
