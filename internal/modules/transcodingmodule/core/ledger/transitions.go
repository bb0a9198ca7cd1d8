package ledger

import (
	"fmt"

	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// transitions is the job state machine. Terminal states have no entry.
var transitions = map[types.Status][]types.Status{
	types.StatusPending: {
		types.StatusProcessing,
	},
	types.StatusProcessing: {
		types.StatusCompleted,
		types.StatusFailed,
	},
}

// TransitionError represents an invalid state transition error
type TransitionError struct {
	JobID  string
	From   types.Status
	To     types.Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("invalid state transition: %s -> %s (%s)", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid state transition for job %s: %s -> %s (%s)", e.JobID, e.From, e.To, e.Reason)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == tcerrors.ErrInvalidTransition
}

// ValidateTransition checks from -> to against the state machine.
func ValidateTransition(from, to types.Status) error {
	if !from.IsValid() || !to.IsValid() {
		return &TransitionError{From: from, To: to, Reason: "unknown status"}
	}
	if from.IsTerminal() {
		return &TransitionError{From: from, To: to, Reason: "job is in a terminal state"}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Reason: "transition not allowed"}
}

// ValidTransitions returns the states reachable from from.
func ValidTransitions(from types.Status) []types.Status {
	next := transitions[from]
	out := make([]types.Status, len(next))
	copy(out, next)
	return out
}
