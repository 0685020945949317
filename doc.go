// aadsso implements the relying-party side of signing users in with Azure
// Active Directory using the OAuth 2.0 authorization code grant and OpenID
// Connect ID Token validation.
//
// The package coordinates a redirect-based login flow: Authenticator.AuthURL
// starts a login attempt by generating an anti-forgery token, persisting it to
// the caller's session store, and producing the authorization URL.
// Authenticator.HandleCallback completes the attempt: it checks the returned state
// against the stored anti-forgery token, exchanges the authorization code for
// tokens, validates the ID Token (see the idtoken package), resolves the
// authenticated claims to a local user (optionally provisioning one), and,
// when enabled, derives the user's local roles from AAD group membership (see
// the graph package).
//
// Session storage and the local user directory are collaborators owned by the
// host application; they are consumed through the session.Store and UserStore
// contracts.
package aadsso
