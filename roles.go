package aadsso

import (
	"context"
	"fmt"

	"github.com/aadsso/aadsso/graph"
	"github.com/aadsso/aadsso/idtoken"
)

// assignRoles derives the user's local roles from AAD group membership and
// replaces the user's role set with the result. Replacement is total: roles
// the user held before that no mapping grants are removed. A user in none of
// the mapped groups receives DefaultRole, or fails authorization when no
// default is configured.
func (a *Authenticator) assignRoles(ctx context.Context, user *User, claims *idtoken.Claims) (*User, error) {
	const op = "Authenticator.assignRoles"

	matched, err := a.graph.CheckMemberGroups(ctx, claims.Subject, a.settings.candidateGroupIDs(), graph.MembershipParams{
		TokenEndpoint: a.settings.TokenEndpoint,
		ClientID:      a.settings.ClientID,
		ClientSecret:  string(a.settings.ClientSecret),
		TenantID:      claims.TenantID,
		GraphBaseURL:  a.settings.GraphBaseURL,
		GraphVersion:  a.settings.GraphVersion,
	})
	if err != nil {
		// A failed membership check fails the login: granting roles on stale
		// or unknown membership is worse than turning the user away.
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	inMatched := make(map[string]bool, len(matched))
	for _, id := range matched {
		inMatched[id] = true
	}

	// Roles accumulate in mapping order so the outcome is deterministic
	// regardless of the order the directory returned the groups in.
	var roles []string
	for _, m := range a.settings.GroupRoleMap {
		if inMatched[m.GroupID] && !containsRole(roles, m.Role) {
			roles = append(roles, m.Role)
		}
	}

	if len(roles) == 0 {
		if a.settings.DefaultRole == "" {
			a.logger.Warn("user is in none of the mapped groups and no default role is configured", "login", user.Login)
			return nil, fmt.Errorf("%s: %w", op, ErrNoGroupMatch)
		}
		roles = []string{a.settings.DefaultRole}
	}

	if err := a.users.SetRoles(ctx, user.ID, roles); err != nil {
		return nil, fmt.Errorf("%s: unable to store roles: %w", op, err)
	}
	updated := *user
	updated.Roles = roles
	return &updated, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
