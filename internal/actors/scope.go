package actors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Directory resolves actors and customers. Implemented by Repository.
type Directory interface {
	TeamMembers(ctx context.Context, managerID string) ([]Actor, error)
	LookupActors(ctx context.Context, ids []string) (map[string]Actor, error)
	ListActors(ctx context.Context) ([]Actor, error)
	LookupCustomers(ctx context.Context, ids []string) (map[string]Customer, error)
}

// Scope is the set of owner ids a viewer may see. All disables the owner filter.
type Scope struct {
	All bool
	IDs []string
}

// Contains reports whether ownerID is visible.
func (s Scope) Contains(ownerID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.IDs {
		if id == ownerID {
			return true
		}
	}
	return false
}

// Key renders a stable token for cache keys.
func (s Scope) Key() string {
	if s.All {
		return "all"
	}
	ids := append([]string(nil), s.IDs...)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// ScopeResolver computes viewer scopes. Results are never cached; team
// membership can change between calls.
type ScopeResolver struct {
	dir Directory
}

// NewScopeResolver wires the resolver to a directory.
func NewScopeResolver(dir Directory) *ScopeResolver {
	return &ScopeResolver{dir: dir}
}

// Scope returns the owner ids visible to viewer.
func (r *ScopeResolver) Scope(ctx context.Context, viewer Actor) (Scope, error) {
	switch viewer.Role {
	case RoleSale:
		return Scope{IDs: []string{viewer.ID}}, nil
	case RoleSaleAdmin:
		members, err := r.dir.TeamMembers(ctx, viewer.ID)
		if err != nil {
			return Scope{}, shared.Transient("actors: team members", err)
		}
		ids := make([]string, 0, len(members)+1)
		ids = append(ids, viewer.ID)
		seen := map[string]struct{}{viewer.ID: {}}
		for _, m := range members {
			if !m.ManagedBy(viewer.ID) {
				continue
			}
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			ids = append(ids, m.ID)
		}
		return Scope{IDs: ids}, nil
	case RoleAdmin:
		return Scope{All: true}, nil
	case RoleCustomer:
		return Scope{}, &shared.PermissionError{Role: string(viewer.Role), Action: "view sales scope"}
	default:
		return Scope{}, fmt.Errorf("actors: %w", &shared.ValidationError{Field: "role", Value: string(viewer.Role)})
	}
}
