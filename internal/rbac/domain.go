package rbac

import "context"

// Wildcard grants every permission.
const Wildcard = "*"

// PermissionSource resolves the permissions granted to an actor.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, actorID string) ([]string, error)
}
