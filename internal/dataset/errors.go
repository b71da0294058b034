package dataset

import "fmt"

// Validation codes reported by ValidationError.
const (
	CodeTooFewColumns           = "too_few_columns"
	CodeFirstColumnNotTimestamp = "first_column_not_timestamp"
	CodeNonNumericColumn        = "non_numeric_column"
	CodeMissingValue            = "missing_value"
	CodeTimestampsNotIncreasing = "timestamps_not_increasing"
	CodeEmptyTable              = "empty_table"
	CodeInvalidColumnName       = "invalid_column_name"
)

const (
	msgTooFewColumns           = "Dataframe is missing columns. Check that you have both securities and date columns"
	msgFirstColumnNotTimestamp = "Left-Most Column is not of type datetime64"
	msgNonNumericColumn        = "Detected non-numerical data-types to the right of date column"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Row is the 1-based data row, or 0 when the error is not tied to a row.
	Row    int    `json:"row,omitempty"`
	Column string `json:"column,omitempty"`
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("%s (row %d, column %q)", e.Message, e.Row, e.Column)
	case e.Row > 0:
		return fmt.Sprintf("%s (row %d)", e.Message, e.Row)
	case e.Column != "":
		return fmt.Sprintf("%s (column %q)", e.Message, e.Column)
	}
	return e.Message
}

// NewValidationError creates a ValidationError with a code and message.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// NewValidationErrorf creates a ValidationError with a formatted message.
func NewValidationErrorf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) at(row int, column string) *ValidationError {
	e.Row = row
	e.Column = column
	return e
}
