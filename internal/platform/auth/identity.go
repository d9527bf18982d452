package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles read from the Firebase "role" custom claim. Tokens without one are shoppers.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the verified Firebase caller. Locale comes from the token's locale claim and
// takes precedence over Accept-Language when address formats are chosen.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// IsAdmin reports whether the caller may act on orders and payments of other users.
func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

func (i *Identity) hasAny(roles []string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
