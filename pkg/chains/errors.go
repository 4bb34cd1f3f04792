package chains

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSignatureRejected = errors.New("signature rejected by user")
	ErrUnknownContract   = errors.New("unknown contract")
	ErrUnknownMethod     = errors.New("unknown contract method")
	ErrInvalidABI        = errors.New("invalid ABI")
	ErrNoEndpoints       = errors.New("no RPC endpoints configured")
)

// ReadError is returned when a view call cannot be completed or decoded
type ReadError struct {
	Call string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s failed: %v", e.Call, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// SimulationError carries the chain-reported reason a dry run reverted
type SimulationError struct {
	Call   string
	Reason string
	Data   []byte
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of %s reverted: %s", e.Call, e.Reason)
}

// SubmissionError is a definite failure before the transaction reached the network.
// The action did not happen and may be retried by the user.
type SubmissionError struct {
	Call string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of %s failed: %v", e.Call, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// AmbiguousOutcomeError means the transaction may have been broadcast but its fate is
// unknown. It must never be retried automatically; the user has to check Hash.
type AmbiguousOutcomeError struct {
	Hash common.Hash
	Err  error
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("outcome of transaction %s is unknown: %v", e.Hash.Hex(), e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error {
	return e.Err
}

// TimeoutError is a bounded wait that expired. It is not a definite failure.
type TimeoutError struct {
	Op   string
	Hash common.Hash
	Err  error
}

func (e *TimeoutError) Error() string {
	if e.Hash != (common.Hash{}) {
		return fmt.Sprintf("%s timed out for %s: %v", e.Op, e.Hash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an RPC error is a network or infrastructure failure
// that another endpoint might not have
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}
