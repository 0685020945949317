package aadsso

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/aadsso/aadsso/graph"
	"github.com/aadsso/aadsso/idtoken"
	"github.com/aadsso/aadsso/session"
)

// Session keys this package owns. Hosts must not write these keys
// themselves.
const (
	// SessionKeyAntiforgery stores the anti-forgery token for the login
	// attempt currently in flight.
	SessionKeyAntiforgery = "aadsso_antiforgery_id"

	// SessionKeyNonce stores the nonce sent on the authorization request,
	// which the issued id_token must echo back.
	SessionKeyNonce = "aadsso_nonce"

	// SessionKeyRedirect stores the caller's intended post-login
	// destination.
	SessionKeyRedirect = "aadsso_redirect_to"
)

// Authenticator coordinates one user's redirect-based login flow: producing
// the authorization URL, and completing the callback through code exchange,
// id_token validation, local-user resolution and role assignment.
//
// An Authenticator carries no per-login mutable state; all attempt state
// lives in the session store, so it is safe to construct one per request or
// share one across requests for the same configuration.
type Authenticator struct {
	settings  Settings
	session   session.Store
	users     UserStore
	graph     *graph.Client
	validator *idtoken.Validator
	logger    hclog.Logger

	// backgroundCtx is used by the remote key set when it refreshes the
	// provider's signing keys.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// New creates an Authenticator for the given settings, session store and
// local user store.
// Supported options:
//
//	WithLogger
//	WithKeySet
//
// See Authenticator.Done() which must be called to release resources.
func New(settings Settings, sess session.Store, users UserStore, opt ...Option) (*Authenticator, error) {
	const op = "aadsso.New"
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid settings: %w", op, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	if users == nil {
		return nil, fmt.Errorf("%s: user store is nil: %w", op, ErrNilParameter)
	}
	opts := getAuthenticatorOpts(opt...)

	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Authenticator{
		settings:            settings,
		session:             sess,
		users:               users,
		logger:              logger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	keySet := opts.withKeySet
	if keySet == nil {
		var err error
		keySet, err = idtoken.NewJSONWebKeySet(a.backgroundCtx, settings.JWKSEndpoint, settings.ProviderCA)
		if err != nil {
			a.Done()
			return nil, fmt.Errorf("%s: unable to create key set: %w", op, err)
		}
	}
	validator, err := idtoken.NewValidator(keySet)
	if err != nil {
		a.Done()
		return nil, fmt.Errorf("%s: unable to create validator: %w", op, err)
	}
	a.validator = validator

	graphClient, err := graph.NewClient(
		graph.WithLogger(logger.Named("graph")),
		graph.WithProviderCA(settings.ProviderCA),
	)
	if err != nil {
		a.Done()
		return nil, fmt.Errorf("%s: unable to create graph client: %w", op, err)
	}
	a.graph = graphClient

	return a, nil
}

// Done releases the Authenticator's background resources and must be called
// for every Authenticator created.
func (a *Authenticator) Done() {
	if a == nil {
		return
	}
	if a.backgroundCtxCancel != nil {
		a.backgroundCtxCancel()
		a.backgroundCtxCancel = nil
	}
}

// StartSession initializes the browser session before a login flow begins.
func (a *Authenticator) StartSession(ctx context.Context) error {
	const op = "Authenticator.StartSession"
	if err := a.session.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearSession destroys the browser session, e.g. as part of logout.
func (a *Authenticator) ClearSession(ctx context.Context) error {
	const op = "Authenticator.ClearSession"
	if err := a.session.Destroy(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveRedirect stores the caller's intended post-login destination so
// RedirectAfterLogin can restore it once authentication completes. Callers
// must pass a destination they have already vetted; this package returns it
// verbatim after login.
func (a *Authenticator) SaveRedirect(ctx context.Context, destination string) error {
	const op = "Authenticator.SaveRedirect"
	if err := a.session.Set(ctx, SessionKeyRedirect, destination); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RedirectAfterLogin returns the destination stored before the login began,
// or fallback when none was stored. Only the session-stored value is ever
// trusted; nothing is read from the request. The stored destination is
// consumed: a second call returns fallback, so a stale destination can never
// leak into a later login.
func (a *Authenticator) RedirectAfterLogin(ctx context.Context, fallback string) string {
	stored, ok, err := a.session.Get(ctx, SessionKeyRedirect)
	if err != nil {
		a.logger.Error("unable to read stored redirect", "error", err)
		return fallback
	}
	if !ok || stored == "" {
		return fallback
	}
	if err := a.session.Delete(ctx, SessionKeyRedirect); err != nil {
		a.logger.Error("unable to clear stored redirect", "error", err)
	}
	return stored
}

// AuthURL starts a login attempt: it generates a fresh anti-forgery token and
// nonce, persists both to the session, and returns the provider authorization
// URL the user should be redirected to. The session writes always happen
// before the URL is returned, so a callback can never arrive ahead of the
// stored attempt state.
func (a *Authenticator) AuthURL(ctx context.Context) (string, error) {
	const op = "Authenticator.AuthURL"

	antiforgery, err := newAntiforgeryToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := newNonce()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := a.session.Set(ctx, SessionKeyAntiforgery, antiforgery); err != nil {
		return "", fmt.Errorf("%s: unable to persist anti-forgery token: %w", op, err)
	}
	if err := a.session.Set(ctx, SessionKeyNonce, nonce); err != nil {
		return "", fmt.Errorf("%s: unable to persist nonce: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:    a.settings.ClientID,
		RedirectURL: a.settings.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.settings.AuthorizationEndpoint,
			TokenURL: a.settings.TokenEndpoint,
		},
		Scopes: append([]string{"openid"}, a.settings.Scopes...),
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if a.settings.OrgDomainHint != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("domain_hint", a.settings.OrgDomainHint))
	}
	return oauth2Config.AuthCodeURL(antiforgery, authCodeOpts...), nil
}

// Callback is the provider's authorization response, parsed from the query
// parameters of the redirect back.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback extracts the authorization response from query parameters.
func ParseCallback(q url.Values) Callback {
	return Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// HandleCallback completes a login attempt from the provider's authorization
// response.
//
// When the response carries neither a code nor an error, it returns
// (nil, nil): the request is not part of an AAD flow (e.g. the host's own
// form-based login) and must pass through unchanged.
//
// Any failure is terminal for the attempt and matchable by kind:
// *ProviderError, ErrAntiforgeryMismatch, graph.ErrIdpUnreachable,
// ErrInvalidIDToken (wrapping the idtoken kinds), ErrMissingIdentityClaim,
// ErrUserNotRegistered, ErrNoGroupMatch. On success the returned User
// carries the final, fully reconciled role set.
func (a *Authenticator) HandleCallback(ctx context.Context, cb Callback) (*User, error) {
	const op = "Authenticator.HandleCallback"

	if cb.Error != "" {
		a.logger.Error("provider returned authorization error", "code", cb.Error)
		return nil, fmt.Errorf("%s: %w", op, &ProviderError{Code: cb.Error, Description: cb.ErrorDescription})
	}
	if cb.Code == "" {
		return nil, nil
	}

	nonce, err := a.checkAntiforgery(ctx, cb.State)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokens, err := a.graph.ExchangeCode(ctx, cb.Code, graph.ExchangeParams{
		TokenEndpoint: a.settings.TokenEndpoint,
		ClientID:      a.settings.ClientID,
		ClientSecret:  string(a.settings.ClientSecret),
		RedirectURI:   a.settings.RedirectURI,
		Resource:      a.settings.GraphBaseURL + "/",
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens.Error != "" {
		a.logger.Error("token exchange rejected by provider", "code", tokens.Error)
		return nil, fmt.Errorf("%s: %w", op, &ProviderError{Code: tokens.Error, Description: tokens.ErrorDescription})
	}
	if tokens.AccessToken == "" || tokens.IDToken == "" {
		return nil, fmt.Errorf("%s: token response is missing a token: %w", op, graph.ErrUnexpectedResponse)
	}

	claims, err := a.validator.Validate(ctx, tokens.IDToken, idtoken.Expected{
		Issuer:      a.settings.Issuer,
		Audience:    a.settings.ClientID,
		Nonce:       nonce,
		SigningAlgs: a.settings.SupportedSigningAlgs,
	})
	if err != nil {
		a.logger.Error("id_token validation failed", "error", err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidIDToken, err)
	}

	user, err := a.resolveUser(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if a.settings.EnableGroupToRole {
		user, err = a.assignRoles(ctx, user, claims)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	a.logger.Info("user authenticated", "login", user.Login, "roles", user.Roles)
	return user, nil
}

// checkAntiforgery compares the callback's state parameter against the
// anti-forgery token stored when the attempt began and returns the nonce that
// was stored alongside it. A missing stored token, missing stored nonce or
// missing state parameter is always a mismatch; there is no path around this
// check. On success both stored values are deleted, so attempt state is
// single-use and a replayed callback fails here.
func (a *Authenticator) checkAntiforgery(ctx context.Context, state string) (string, error) {
	stored, ok, err := a.session.Get(ctx, SessionKeyAntiforgery)
	if err != nil {
		return "", fmt.Errorf("unable to read anti-forgery token: %w", err)
	}
	nonce, nonceOk, err := a.session.Get(ctx, SessionKeyNonce)
	if err != nil {
		return "", fmt.Errorf("unable to read nonce: %w", err)
	}
	if !ok || stored == "" || !nonceOk || nonce == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		// The expected value goes to the operator log only, never to the
		// user-facing error.
		a.logger.Error("antiforgery state mismatch")
		a.logger.Debug("antiforgery state mismatch detail", "expected", stored, "received", state)
		return "", ErrAntiforgeryMismatch
	}
	if err := a.session.Delete(ctx, SessionKeyAntiforgery); err != nil {
		return "", fmt.Errorf("unable to clear anti-forgery token: %w", err)
	}
	if err := a.session.Delete(ctx, SessionKeyNonce); err != nil {
		return "", fmt.Errorf("unable to clear nonce: %w", err)
	}
	return nonce, nil
}

// LogoutURL returns the provider's end-session URL. Visiting it signs the
// user out of the provider; it does not clear the local session (see
// ClearSession).
func (a *Authenticator) LogoutURL() string {
	u := a.settings.EndSessionEndpoint
	if a.settings.LogoutRedirectURI != "" {
		q := url.Values{"post_logout_redirect_uri": {a.settings.LogoutRedirectURI}}
		u += "?" + q.Encode()
	}
	return u
}

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type authenticatorOptions struct {
	withLogger hclog.Logger
	withKeySet idtoken.KeySet
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for operator-facing diagnostics.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withLogger = l
		}
	}
}

// WithKeySet overrides the signing-key resolution mechanism, which otherwise
// fetches the provider's published JWKS. Typically only set by tests.
func WithKeySet(ks idtoken.KeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withKeySet = ks
		}
	}
}
