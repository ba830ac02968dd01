package auth

import (
	"fmt"

	"github.com/mlenoir/authvault/internal/common"
)

// Scope names known to the service.
const (
	ScopeReadProfile  = "read:profile"
	ScopeWriteProfile = "write:profile"
	ScopeAdmin        = "admin"
)

// ScopesForRole maps a role to the scopes granted at login. The admin role
// implies the admin scope, so administrative operations are gated by scope
// membership alone; there is no separate role-equality path. Every user can
// read and write their own profile.
func ScopesForRole(role string) []string {
	if role == RoleAdmin {
		return []string{ScopeAdmin, ScopeReadProfile, ScopeWriteProfile}
	}
	return []string{ScopeReadProfile, ScopeWriteProfile}
}

// Authorize checks that the token's scope set contains every required
// scope, ignoring order. The first missing scope is reported and checking
// stops there; the report is operator-facing, not attacker-facing.
func Authorize(claims *Claims, required ...string) error {
	granted := make(map[string]struct{}, len(claims.Scopes))
	for _, s := range claims.Scopes {
		granted[s] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := granted[scope]; !ok {
			return fmt.Errorf("%w: missing scope %s", common.ErrInsufficientScope, scope)
		}
	}
	return nil
}
