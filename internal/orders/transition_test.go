package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

var legalEdges = map[[2]Status]bool{
	{StatusDraft, StatusOrdered}:    true,
	{StatusOrdered, StatusShipping}: true,
	{StatusShipping, StatusPaid}:    true,
	{StatusPaid, StatusCompleted}:   true,
	{StatusDraft, StatusCancelled}:  true,
}

func TestTransitionExhaustivePairs(t *testing.T) {
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			order := Order{ID: 1, Status: from, OwnerID: "s1"}
			next, err := Transition(order, to, now)
			if legalEdges[[2]Status{from, to}] {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, next.Status)
				assert.Equal(t, now, next.UpdatedAt)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			var terr *shared.InvalidTransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, string(from), terr.From)
			assert.Equal(t, string(to), terr.To)
			assert.ErrorIs(t, err, shared.ErrInvalidTransition)
		}
	}
}

func TestTransitionDraftToShippingRejected(t *testing.T) {
	order := Order{ID: 1, Status: StatusDraft, OwnerID: "s1"}
	_, err := Transition(order, StatusShipping, time.Now())
	var terr *shared.InvalidTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, &shared.InvalidTransitionError{From: "draft", To: "shipping"}, terr)
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range Statuses() {
		assert.Equal(t, s.Terminal(), len(AllowedNext(s)) == 0, "status %s", s)
	}
	assert.ElementsMatch(t, []Status{StatusOrdered, StatusCancelled}, AllowedNext(StatusDraft))
}

func TestTransitionChangesOnlyStatusAndTimestamp(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	order := Order{
		ID:             9,
		Status:         StatusOrdered,
		CustomerID:     "c1",
		OwnerID:        "s1",
		TotalAmount:    decimal.NewFromInt(500),
		DiscountAmount: decimal.NewFromInt(20),
		CreatedAt:      created,
		UpdatedAt:      created,
		Items:          []OrderItem{{OrderID: 9, ProductID: "p1", Quantity: 5, PriceAtOrder: decimal.NewFromInt(100)}},
	}
	now := created.Add(time.Hour)
	next, err := Transition(order, StatusShipping, now)
	require.NoError(t, err)

	want := order.Clone()
	want.Status = StatusShipping
	want.UpdatedAt = now
	assert.Equal(t, want, next)
	assert.Equal(t, StatusOrdered, order.Status, "input must not be mutated")
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"draft", "ordered", "shipping", "paid", "completed", "cancelled"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, string(s))
	}
	_, err := ParseStatus("canceled")
	assert.ErrorIs(t, err, shared.ErrValidation)
}
