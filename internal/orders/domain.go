package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusOrdered   Status = "ordered"
	StatusShipping  Status = "shipping"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statuses = []Status{StatusDraft, StatusOrdered, StatusShipping, StatusPaid, StatusCompleted, StatusCancelled}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return append([]Status(nil), statuses...)
}

// ParseStatus validates a raw status token.
func ParseStatus(raw string) (Status, error) {
	for _, s := range statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", &shared.ValidationError{Field: "status", Value: raw}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is a sales order owned by exactly one salesperson.
type Order struct {
	ID             int64           `json:"id" db:"id"`
	Status         Status          `json:"status" db:"status"`
	CustomerID     string          `json:"customer_id" db:"customer_id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	Items          []OrderItem     `json:"items,omitempty" db:"-"`
}

// OrderItem is an order line. PriceAtOrder is the price captured when the
// order was placed and is never recomputed.
type OrderItem struct {
	OrderID      int64           `json:"order_id" db:"order_id"`
	ProductID    string          `json:"product_id" db:"product_id"`
	ProductName  string          `json:"product_name" db:"product_name"`
	CategoryID   string          `json:"category_id" db:"category_id"`
	CategoryName string          `json:"category_name" db:"category_name"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order" db:"price_at_order"`
}

// Revenue is quantity × price at order.
func (i OrderItem) Revenue() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(i.Quantity))
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	return out
}

// StatusEvent is an append-only record of one applied transition.
type StatusEvent struct {
	ID      string    `json:"id" db:"id"`
	OrderID int64     `json:"order_id" db:"order_id"`
	From    Status    `json:"from" db:"from_status"`
	To      Status    `json:"to" db:"to_status"`
	ActorID string    `json:"actor_id" db:"actor_id"`
	At      time.Time `json:"at" db:"created_at"`
}

// ListFilter scopes order reads.
type ListFilter struct {
	OwnerIDs        []string
	AllOwners       bool
	From            time.Time
	To              time.Time
	Statuses        []Status
	ExcludeStatuses []Status
}
