// Package graph is the client for the identity provider's token endpoint and
// the Azure AD Graph directory API. It owns the two server-side network
// round-trips of the login flow: exchanging an authorization code for tokens,
// and checking a subject's group memberships (including the bearer-token
// acquisition that call requires).
//
// All per-call configuration is passed explicitly as parameters; a Client
// carries only an HTTP client and a logger and is safe for concurrent use.
package graph
