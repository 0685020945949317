package aadsso

import (
	"context"
	"fmt"
	"strings"

	"github.com/aadsso/aadsso/idtoken"
)

// resolveUser maps the validated id_token claims to a local user: lookup on
// the configured field, optionally a second lookup on the bare alias, and
// finally auto-provisioning when enabled.
func (a *Authenticator) resolveUser(ctx context.Context, claims *idtoken.Claims) (*User, error) {
	const op = "Authenticator.resolveUser"

	login, ok := claims.PreferredLogin()
	if !ok {
		return nil, fmt.Errorf("%s: token carries neither upn nor unique_name: %w", op, ErrMissingIdentityClaim)
	}

	user, found, err := a.users.FindBy(ctx, a.settings.FieldToMatch, login)
	if err != nil {
		return nil, fmt.Errorf("%s: user lookup failed: %w", op, err)
	}

	if !found && a.settings.MatchOnUPNAlias {
		alias := strings.Split(login, "@"+a.settings.OrgDomainHint)[0]
		if alias != login {
			user, found, err = a.users.FindBy(ctx, a.settings.FieldToMatch, alias)
			if err != nil {
				return nil, fmt.Errorf("%s: alias lookup failed: %w", op, err)
			}
		}
	}

	if found {
		return user, nil
	}

	if !a.settings.AutoProvision {
		a.logger.Warn("authenticated principal has no local user", "login", login)
		return nil, fmt.Errorf("%s: no local user matches %q: %w", op, login, ErrUserNotRegistered)
	}

	user, err = a.users.Create(ctx, NewUser{
		Login:      login,
		Email:      login,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to provision user: %w", op, err)
	}
	a.logger.Info("provisioned local user", "login", login)
	return user, nil
}
