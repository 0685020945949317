package aadsso

import (
	"context"
	"net/http"
)

// SuccessFn is called by CallbackHandler when a login completes; it owns the
// HTTP response (typically a redirect to RedirectAfterLogin).
type SuccessFn func(w http.ResponseWriter, req *http.Request, u *User)

// ErrorFn is called by CallbackHandler when a login fails. The error is one
// of the kinds documented on Authenticator.HandleCallback; implementations
// must not echo its details to the user.
type ErrorFn func(w http.ResponseWriter, req *http.Request, err error)

// LoginHandler returns an http.HandlerFunc that starts a login: it stashes
// the caller's destination (when SaveRedirect has something to save is up to
// the host), builds the authorization URL and redirects the user agent to the
// provider.
func LoginHandler(ctx context.Context, a *Authenticator, errorFn ErrorFn) (http.HandlerFunc, error) {
	const op = "aadsso.LoginHandler"
	if err := handlerParams(op, a, errorFn); err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, req *http.Request) {
		authURL, err := a.AuthURL(ctx)
		if err != nil {
			errorFn(w, req, err)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}

// CallbackHandler returns an http.HandlerFunc that completes a login from the
// provider's redirect back. A request carrying neither a code nor an error is
// not part of an AAD flow; over HTTP there is no native flow to fall through
// to, so it is reported to errorFn as ErrMalformedCallback.
func CallbackHandler(ctx context.Context, a *Authenticator, successFn SuccessFn, errorFn ErrorFn) (http.HandlerFunc, error) {
	const op = "aadsso.CallbackHandler"
	if err := handlerParams(op, a, errorFn); err != nil {
		return nil, err
	}
	if successFn == nil {
		return nil, newNilParamErr(op, "success function")
	}
	return func(w http.ResponseWriter, req *http.Request) {
		user, err := a.HandleCallback(ctx, ParseCallback(req.URL.Query()))
		switch {
		case err != nil:
			errorFn(w, req, err)
		case user == nil:
			errorFn(w, req, ErrMalformedCallback)
		default:
			successFn(w, req, user)
		}
	}, nil
}

func handlerParams(op string, a *Authenticator, errorFn ErrorFn) error {
	if a == nil {
		return newNilParamErr(op, "authenticator")
	}
	if errorFn == nil {
		return newNilParamErr(op, "error function")
	}
	return nil
}
