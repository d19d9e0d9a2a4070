package auth

import "net/http"

// ChainAuthenticator lets the admin+relay mux accept either a bearer
// token or a localhost-only bypass on the same route: it tries each
// Authenticator in turn and stops at the first Valid result.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator builds a chain, tried in the given order.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{
		authenticators: authenticators,
	}
}

// Validate returns the first Valid result in the chain, or the last
// failure if none succeed.
func (c *ChainAuthenticator) Validate(r *http.Request) Result {
	if len(c.authenticators) == 0 {
		return Result{Valid: false, Type: TypeNone, Error: "no authentication configured"}
	}

	var lastResult Result
	for _, a := range c.authenticators {
		lastResult = a.Validate(r)
		if lastResult.Valid {
			return lastResult
		}
	}

	// Every link failed; report the last authenticator's error message
	// with TypeNone, since no credential type was accepted.
	return Result{Valid: false, Type: TypeNone, Error: lastResult.Error}
}

// Type returns TypeNone since this is a meta-authenticator.
func (c *ChainAuthenticator) Type() Type {
	return TypeNone
}
