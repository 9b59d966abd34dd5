package revenue

import (
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Policy selects which orders count as revenue. The engine itself is
// policy-agnostic; callers pick one explicitly and the two are never mixed.
type Policy string

const (
	// PolicyFunnel counts every non-cancelled order.
	PolicyFunnel Policy = "funnel"
	// PolicyCompletedOnly counts completed orders only.
	PolicyCompletedOnly Policy = "completed_only"
)

// ParsePolicy validates a raw policy token.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(raw) {
	case PolicyFunnel, PolicyCompletedOnly:
		return Policy(raw), nil
	default:
		return "", &shared.ValidationError{Field: "policy", Value: raw}
	}
}

// Includes reports whether an order in status s is counted.
func (p Policy) Includes(s orders.Status) bool {
	switch p {
	case PolicyFunnel:
		return s != orders.StatusCancelled
	case PolicyCompletedOnly:
		return s == orders.StatusCompleted
	default:
		return false
	}
}

// StatusFilter translates the policy into store include/exclude lists.
func (p Policy) StatusFilter() (include, exclude []orders.Status) {
	switch p {
	case PolicyFunnel:
		return nil, []orders.Status{orders.StatusCancelled}
	case PolicyCompletedOnly:
		return []orders.Status{orders.StatusCompleted}, nil
	default:
		return nil, nil
	}
}

// FilterOrders keeps the orders p counts, preserving order.
func FilterOrders(p Policy, list []orders.Order) []orders.Order {
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if p.Includes(o.Status) {
			out = append(out, o)
		}
	}
	return out
}
