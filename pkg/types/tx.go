package types

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is a fully formed, simulated call ready for submission.
// It belongs to a single workflow run and can be sent at most once.
type TxRequest struct {
	From        common.Address
	To          common.Address
	Contract    string
	Method      string
	Args        []any
	Data        []byte
	Value       *big.Int
	Gas         uint64
	SimulatedAt time.Time

	claimed atomic.Bool
}

// Claim marks the request as sent; a second claim fails with ErrTxRequestReused
func (r *TxRequest) Claim() error {
	if !r.claimed.CompareAndSwap(false, true) {
		return ErrTxRequestReused
	}
	return nil
}

// Claimed reports whether the request was already handed to Send
func (r *TxRequest) Claimed() bool {
	return r.claimed.Load()
}

// Selector returns the 4-byte function selector
func (r *TxRequest) Selector() []byte {
	if len(r.Data) < 4 {
		return nil
	}
	return r.Data[:4]
}

// PendingTx is the handle of a broadcast transaction
type PendingTx struct {
	Hash   common.Hash
	From   common.Address
	Nonce  uint64
	Method string
	SentAt time.Time
}

type TxStatus int

const (
	TxSucceeded TxStatus = iota + 1
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxSucceeded:
		return "succeeded"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TxReceipt is the terminal on-chain outcome of a broadcast transaction
type TxReceipt struct {
	Hash        common.Hash
	Status      TxStatus
	BlockNumber uint64
	GasUsed     uint64
	Reason      string
}

func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == TxSucceeded
}
