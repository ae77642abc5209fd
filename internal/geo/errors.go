package geo

import "fmt"

// FormatError reports a metadata source with the wrong shape (line or field
// count), as opposed to individual values that fail to parse.
type FormatError struct {
	Source string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Source, e.Reason)
}

// ParseError reports non-numeric content where a number is required.
type ParseError struct {
	Source string
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse %s %q: %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingFieldError reports an expected metadata key that is absent.
type MissingFieldError struct {
	Source string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Source, e.Field)
}
