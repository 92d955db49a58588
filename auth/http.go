package auth

import (
	"errors"
	"net/http"
	"slices"
)

// Authenticator checks the credentials carried by a request.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// Require rejects requests that no authenticator accepts, except for the open
// paths. Nil authenticators and empty key sets are ignored; with none left
// every request goes through.
func Require(next http.Handler, open []string, auths ...Authenticator) http.Handler {
	auths = slices.DeleteFunc(slices.Clone(auths), func(a Authenticator) bool { return !enabled(a) })
	if len(auths) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(open, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		err := authenticate(r, auths)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if errors.Is(err, ErrMissingCredentials) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="toolflight"`)
		}
		http.Error(w, err.Error(), http.StatusUnauthorized)
	})
}

// authenticate returns nil once any authenticator accepts r. Otherwise it
// returns the first rejection of presented credentials, or
// ErrMissingCredentials when none were presented.
func authenticate(r *http.Request, auths []Authenticator) error {
	var rejected error
	for _, a := range auths {
		err := a.Authenticate(r)
		if err == nil {
			return nil
		}
		if rejected == nil && !errors.Is(err, ErrMissingCredentials) {
			rejected = err
		}
	}
	if rejected != nil {
		return rejected
	}
	return ErrMissingCredentials
}

func enabled(a Authenticator) bool {
	switch v := a.(type) {
	case nil:
		return false
	case *APIKeys:
		return v != nil && v.Len() > 0
	case *JWTAuthenticator:
		return v != nil
	}
	return true
}
