package aadsso

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// newAntiforgeryToken generates the opaque per-attempt value bound to the
// session and echoed back by the provider as the "state" parameter.
func newAntiforgeryToken() (string, error) {
	const op = "aadsso.newAntiforgeryToken"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate token: %w", op, err)
	}
	return id, nil
}

// newNonce generates the per-attempt value sent as the "nonce" parameter on
// the authorization request and echoed back inside the id_token, binding the
// issued token to this login attempt.
func newNonce() (string, error) {
	const op = "aadsso.newNonce"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	return id, nil
}
