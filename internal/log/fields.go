package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldKey         = "key"
	FieldTable       = "table"
	FieldState       = "state"
	FieldTempID      = "temp_id"
	FieldRemoteID    = "remote_id"
	FieldAmount      = "amount"
	FieldCategory    = "category"
	FieldKind        = "kind"
	FieldPersonID    = "person_id"
	FieldDirection   = "direction"
	FieldBackend     = "backend"
	FieldUserID      = "user_id"
	FieldRecordCount = "record_count"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentCoordinator = "coordinator"
	ComponentLedger      = "ledger"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentBackend     = "backend"
	ComponentCLI         = "cli"
	ComponentMetrics     = "metrics"
)

// Operations defines standard operation names
const (
	OpAddTransaction    = "add_transaction"
	OpEditTransaction   = "edit_transaction"
	OpDeleteTransaction = "delete_transaction"
	OpAddSharedEntry    = "add_shared_entry"
	OpDeleteSharedEntry = "delete_shared_entry"
	OpReconcile         = "reconcile"
	OpHydrate           = "hydrate"
	OpStartup           = "startup"
	OpShutdown          = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeCancelled     = "cancelled"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeDrift         = "drift_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation and key fields
func (f LogFields) WithOperation(op, key string) LogFields {
	f[FieldOperation] = op
	if key != "" {
		f[FieldKey] = key
	}
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(amount, category, kind string) LogFields {
	f[FieldAmount] = amount
	f[FieldCategory] = category
	f[FieldKind] = kind
	return f
}

// WithSharedEntry adds shared-entry fields
func (f LogFields) WithSharedEntry(personID, amount, direction string) LogFields {
	f[FieldPersonID] = personID
	f[FieldAmount] = amount
	f[FieldDirection] = direction
	return f
}

// WithRemap adds the temporary and remote id of a confirmed write
func (f LogFields) WithRemap(tempID, remoteID string) LogFields {
	f[FieldTempID] = tempID
	f[FieldRemoteID] = remoteID
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
