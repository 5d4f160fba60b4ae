package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service resolves permissions from user_roles and role_permissions.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EffectivePermissions lists the distinct permissions of every role held by actorID.
func (s *Service) EffectivePermissions(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT rp.permission
FROM user_roles ur JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.user_id = $1 ORDER BY rp.permission`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// StaticGrants is a fixed actor to permissions table, used with the memory
// storage driver and in tests.
type StaticGrants map[string][]string

// ParseGrants reads "alice:requisition.view,requisition.edit;bob:*".
func ParseGrants(raw string) (StaticGrants, error) {
	grants := StaticGrants{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		actor, perms, ok := strings.Cut(entry, ":")
		actor = strings.TrimSpace(actor)
		if !ok || actor == "" {
			return nil, fmt.Errorf("rbac: malformed grant %q", entry)
		}
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				grants[actor] = append(grants[actor], p)
			}
		}
	}
	return grants, nil
}

// EffectivePermissions implements PermissionSource.
func (g StaticGrants) EffectivePermissions(_ context.Context, actorID string) ([]string, error) {
	return append([]string(nil), g[actorID]...), nil
}
