package actors

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Repository provides PostgreSQL backed directory lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const actorColumns = `id, name, role, manager_id`

func scanActor(row pgx.Row) (Actor, error) {
	var (
		a    Actor
		role string
	)
	if err := row.Scan(&a.ID, &a.Name, &role, &a.ManagerID); err != nil {
		return Actor{}, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return Actor{}, err
	}
	a.Role = parsed
	return a, nil
}

// GetActor loads a single actor.
func (r *Repository) GetActor(ctx context.Context, id string) (Actor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id)
	a, err := scanActor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, &shared.NotFoundError{Kind: "actor", ID: id}
		}
		return Actor{}, err
	}
	return a, nil
}

// TeamMembers returns the salespeople supervised by managerID.
func (r *Repository) TeamMembers(ctx context.Context, managerID string) ([]Actor, error) {
	return r.queryActors(ctx, `SELECT `+actorColumns+` FROM actors WHERE manager_id = $1 AND role = 'sale' ORDER BY id`, managerID)
}

// ListActors returns every actor.
func (r *Repository) ListActors(ctx context.Context) ([]Actor, error) {
	return r.queryActors(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY id`)
}

// ListByRoles returns actors holding one of roles.
func (r *Repository) ListByRoles(ctx context.Context, roles ...Role) ([]Actor, error) {
	raw := make([]string, len(roles))
	for i, role := range roles {
		raw[i] = string(role)
	}
	return r.queryActors(ctx, `SELECT `+actorColumns+` FROM actors WHERE role = ANY($1) ORDER BY id`, raw)
}

// LookupActors resolves ids to actors. Missing ids are omitted.
func (r *Repository) LookupActors(ctx context.Context, ids []string) (map[string]Actor, error) {
	out := make(map[string]Actor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := r.queryActors(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}

// LookupCustomers resolves ids to customers. Missing ids are omitted.
func (r *Repository) LookupCustomers(ctx context.Context, ids []string) (map[string]Customer, error) {
	out := make(map[string]Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM customers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (r *Repository) queryActors(ctx context.Context, query string, args ...any) ([]Actor, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
