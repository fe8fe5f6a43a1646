package ledger

import "fmt"

// allowedTransitions is the record status machine. historical is terminal.
var allowedTransitions = map[string]map[string]bool{
	StatusActive:     {StatusResolved: true, StatusHistorical: true, StatusInactive: true},
	StatusInactive:   {StatusActive: true, StatusResolved: true, StatusHistorical: true},
	StatusResolved:   {StatusActive: true, StatusHistorical: true},
	StatusHistorical: {},
}

// CheckTransition allows from→to when the table permits it. Staying in the
// same status is always allowed.
func CheckTransition(from, to string) error {
	if from == to {
		return nil
	}
	if !validStatuses[to] {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !allowedTransitions[from][to] {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}
