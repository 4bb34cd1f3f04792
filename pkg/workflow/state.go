package workflow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/types"
)

type State int

const (
	Idle State = iota
	Validating
	AwaitingApproval
	Simulating
	AwaitingSignature
	Submitted
	Confirmed
	Failed
	Rejected
	// Unknown means a transaction may have been broadcast but its outcome was not observed
	Unknown
)

var stateNames = map[State]string{
	Idle:              "idle",
	Validating:        "validating",
	AwaitingApproval:  "awaiting_approval",
	Simulating:        "simulating",
	AwaitingSignature: "awaiting_signature",
	Submitted:         "submitted",
	Confirmed:         "confirmed",
	Failed:            "failed",
	Rejected:          "rejected",
	Unknown:           "unknown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// Terminal reports whether the state ends a run
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed || s == Rejected
}

// Phase distinguishes the approval sub-workflow from the main call
type Phase string

const (
	PhaseApproval Phase = "approval"
	PhaseAction   Phase = "action"
)

// Transition is one state change reported to observers
type Transition struct {
	Action string
	Phase  Phase
	From   State
	To     State
	Err    error
	Hash   common.Hash
	At     time.Time
}

// Snapshot is the observable state of a workflow
type Snapshot struct {
	Action string
	State  State
	Phase  Phase
	Err    error

	// ApprovalState tracks the approval sub-workflow while the main state is AwaitingApproval
	ApprovalState   State
	ApprovalHash    common.Hash
	ApprovalReceipt *types.TxReceipt

	TxHash  common.Hash
	Receipt *types.TxReceipt

	UpdatedAt time.Time
}

// Reason returns the specific cause of a failure, or "" when there is none
func (s Snapshot) Reason() string {
	return Reason(s.Err)
}
