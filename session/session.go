// Package session defines the storage contract the authentication flow uses
// to keep per-browser-session state (the anti-forgery token and the caller's
// intended post-login destination) across the redirect round-trip to the
// identity provider.
//
// A Store instance is scoped to a single browser session. The host
// application owns session identification (cookies, etc.) and constructs one
// Store per request cycle.
package session

import "context"

// Store is scoped key-value storage bound to one browser session.
type Store interface {
	// Set writes a value under key. The value must be durable for at least
	// the lifetime of one login attempt (the redirect round-trip).
	Set(ctx context.Context, key, value string) error

	// Get reads the value under key. The second return value reports whether
	// the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes the value under key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Start initializes the session, if the backing store requires it.
	// Calling Start on an already-started session is a no-op.
	Start(ctx context.Context) error

	// Destroy removes all values in the session, e.g. as part of logout.
	Destroy(ctx context.Context) error
}
