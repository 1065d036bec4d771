package core

import "fmt"

// Error taxonomy. Every kind aborts the whole unit of work before any partial
// write becomes visible; callers match with errors.As and map each kind to a
// user-facing response.

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

func notFound(entity string, ref any) error {
	return &NotFoundError{Entity: entity, Ref: fmt.Sprint(ref)}
}

// ConfigurationError reports missing administrative configuration (no daily
// price on record, no margin category assigned). Distinct from validation:
// the fix is administrative, not caller-side.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

func configurationf(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError reports a sale that would drive inventory negative.
type InsufficientStockError struct {
	Product   string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.Product, e.Available, e.Requested)
}
