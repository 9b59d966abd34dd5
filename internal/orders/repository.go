package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/salespulse/internal/platform/db"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, status, customer_id, owner_id, total_amount, discount_amount, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &status, &o.CustomerID, &o.OwnerID, &o.TotalAmount, &o.DiscountAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Order{}, fmt.Errorf("orders: order %d: %w", o.ID, err)
	}
	o.Status = parsed
	return o, nil
}

func orderNotFound(id int64) error {
	return &shared.NotFoundError{Kind: "order", ID: strconv.FormatInt(id, 10)}
}

// GetOrder loads one order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, orderNotFound(id)
		}
		return Order{}, err
	}
	items, err := r.loadItems(ctx, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

// ListOrders returns orders matching filter, newest first, with items attached.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.AllOwners {
		if len(filter.OwnerIDs) == 0 {
			return nil, nil
		}
		where = append(where, "owner_id = ANY("+arg(filter.OwnerIDs)+")")
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < "+arg(filter.To))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(filter.Statuses))+")")
	}
	if len(filter.ExcludeStatuses) > 0 {
		where = append(where, "NOT (status = ANY("+arg(statusStrings(filter.ExcludeStatuses))+"))")
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []Order
		ids []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]OrderItem, error) {
	out := make(map[int64][]OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT i.order_id, i.product_id, COALESCE(p.name, ''), COALESCE(p.category_id, ''), COALESCE(c.name, ''),
		       i.quantity, i.price_at_order
		FROM order_items i
		LEFT JOIN products p ON p.id = i.product_id
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.CategoryID, &it.CategoryName, &it.Quantity, &it.PriceAtOrder); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

// StatusUpdate describes one persisted transition.
type StatusUpdate struct {
	OrderID int64
	From    Status
	To      Status
	ActorID string
	Order   Order
}

// UpdateStatus writes status and updated_at guarded by the expected current
// status, and appends the status event, in one transaction.
func (r *Repository) UpdateStatus(ctx context.Context, upd StatusUpdate) (Order, error) {
	var updated Order
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE orders SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4
			RETURNING `+orderColumns,
			string(upd.To), upd.Order.UpdatedAt, upd.OrderID, string(upd.From))
		o, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.explainMiss(ctx, tx, upd)
			}
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_events (id, order_id, from_status, to_status, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), upd.OrderID, string(upd.From), string(upd.To), upd.ActorID, upd.Order.UpdatedAt); err != nil {
			return fmt.Errorf("insert status event: %w", err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	updated.Items = upd.Order.Items
	return updated, nil
}

// explainMiss distinguishes a vanished order from a concurrent status change.
func (r *Repository) explainMiss(ctx context.Context, tx pgx.Tx, upd StatusUpdate) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, upd.OrderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderNotFound(upd.OrderID)
	}
	if err != nil {
		return err
	}
	return &shared.InvalidTransitionError{From: current, To: string(upd.To)}
}

// History returns the status events of an order, oldest first.
func (r *Repository) History(ctx context.Context, orderID int64) ([]StatusEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_id, created_at
		FROM order_status_events WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusEvent
	for rows.Next() {
		var (
			ev       StatusEvent
			from, to string
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &from, &to, &ev.ActorID, &ev.At); err != nil {
			return nil, err
		}
		ev.From, ev.To = Status(from), Status(to)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
