package idtoken

import (
	"fmt"
	"strings"
)

// Alg represents asymmetric signing algorithms a caller may allow when
// verifying an id_token's signature.
type Alg string

const (
	RS256 Alg = "RS256"
	RS384 Alg = "RS384"
	RS512 Alg = "RS512"
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	PS256 Alg = "PS256"
	PS384 Alg = "PS384"
	PS512 Alg = "PS512"
	EdDSA Alg = "EdDSA"
)

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// SupportedSigningAlgorithm checks that every alg is an asymmetric signing
// algorithm this package supports. Symmetric algorithms and "none" are never
// supported: accepting them would let a token assert its own verification
// method (algorithm confusion).
func SupportedSigningAlgorithm(algs ...Alg) error {
	const op = "idtoken.SupportedSigningAlgorithm"
	for _, a := range algs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported signing algorithm %q: %w", op, a, ErrInvalidParameter)
		}
	}
	return nil
}

func algListString(algs []Alg) string {
	s := make([]string, 0, len(algs))
	for _, a := range algs {
		s = append(s, string(a))
	}
	return strings.Join(s, ", ")
}
