package qeval

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers compare with errors.Is; the concrete error types
// below wrap them with the detail needed to fix the query or configuration.
var (
	ErrSyntax           = errors.New("query syntax error")
	ErrUnknownOperator  = errors.New("unknown query operator")
	ErrUnsupportedModel = errors.New("operator not supported by retrieval model")
	ErrInvalidWeights   = errors.New("invalid operator weights")
	ErrUnknownField     = errors.New("unknown field")
	ErrNoDocument       = errors.New("no such document")
)

// SyntaxError reports a malformed query. Err narrows the cause
// (ErrUnknownOperator, ErrInvalidWeights, ErrUnknownField); it may be nil.
type SyntaxError struct {
	Query string
	Pos   int
	Msg   string
	Err   error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d in %q: %s", ErrSyntax, e.Pos, e.Query, e.Msg)
}

func (e *SyntaxError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSyntax}
	}
	return []error{ErrSyntax, e.Err}
}

// ModelError is returned by Initialize when an operator is used under a
// retrieval model that has no scoring policy for it.
type ModelError struct {
	Model ModelKind
	Op    Operator
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s doesn't support the %s operator", e.Model, e.Op)
}

func (e *ModelError) Unwrap() error {
	return ErrUnsupportedModel
}
