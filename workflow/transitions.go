package workflow

import (
	"fmt"
	"slices"

	"go-easm/models"
)

// transitions is the only authority on which ChangeState moves are legal.
// Terminal states have no outgoing edge; leaving them takes Reopen.
// ACCEPTED_RISK is never a target here; it is only reachable through AcceptRisk.
var transitions = map[models.VulnState][]models.VulnState{
	models.StateNew: {
		models.StateTriaging,
		models.StateInvestigating,
		models.StateFalsePositive,
		models.StateResolved,
	},
	models.StateTriaging: {
		models.StateInvestigating,
		models.StateRemediation,
		models.StateFalsePositive,
		models.StateResolved,
	},
	models.StateInvestigating: {
		models.StateTriaging,
		models.StateRemediation,
		models.StateFalsePositive,
		models.StateResolved,
	},
	models.StateRemediation: {
		models.StateInvestigating,
		models.StateResolved,
	},
}

// Allowed reports whether ChangeState may move a vulnerability from one
// state to the other.
func Allowed(from, to models.VulnState) bool {
	return slices.Contains(transitions[from], to)
}

// Next returns the states ChangeState may move a vulnerability in from to.
func Next(from models.VulnState) []models.VulnState {
	return slices.Clone(transitions[from])
}

// InvalidTransitionError reports a state change outside the transition table.
type InvalidTransitionError struct {
	VulnerabilityID uint
	From, To        models.VulnState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("vulnerability %d: transition from %s to %s is not allowed", e.VulnerabilityID, e.From, e.To)
}

// Is makes errors.Is(err, models.ErrInvalidState) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == models.ErrInvalidState
}
