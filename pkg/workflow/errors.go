package workflow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/chains"
)

var (
	ErrBusy             = errors.New("workflow busy: a submission is already in progress")
	ErrOutcomeUnknown   = errors.New("previous transaction outcome is unknown: recheck or dismiss it first")
	ErrNothingToRecheck = errors.New("no transaction with unknown outcome")
)

// ValidationError is a local precondition that failed before anything touched the chain
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand for building a ValidationError
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RevertedError is a mined transaction whose execution failed
type RevertedError struct {
	Hash   common.Hash
	Reason string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Hash.Hex(), e.Reason)
}

// ApprovalError wraps a failure of the approval sub-workflow
type ApprovalError struct {
	Err error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("approval failed: %v", e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// Reason extracts the user-facing cause of a workflow error
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var simErr *chains.SimulationError
	if errors.As(err, &simErr) {
		return simErr.Reason
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Error()
	}
	var revErr *RevertedError
	if errors.As(err, &revErr) {
		return revErr.Reason
	}
	return err.Error()
}
