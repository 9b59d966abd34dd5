package orders

import (
	"time"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// adjacency is the complete set of legal edges. Cancellation is only
// reachable from draft.
var adjacency = map[Status][]Status{
	StatusDraft:    {StatusOrdered, StatusCancelled},
	StatusOrdered:  {StatusShipping},
	StatusShipping: {StatusPaid},
	StatusPaid:     {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range adjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedNext lists the statuses reachable from s in one step.
func AllowedNext(s Status) []Status {
	return append([]Status(nil), adjacency[s]...)
}

// Transition validates the edge and returns the order with the new status
// and updatedAt. No other field changes.
func Transition(order Order, to Status, now time.Time) (Order, error) {
	if !CanTransition(order.Status, to) {
		return order, &shared.InvalidTransitionError{From: string(order.Status), To: string(to)}
	}
	next := order.Clone()
	next.Status = to
	next.UpdatedAt = now
	return next, nil
}
