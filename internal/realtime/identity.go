package realtime

import (
	"sidra.tn/internal/auth"
)

// Identity is the credential resolution bound to a connection at
// handshake time. It never changes for the lifetime of the session.
type Identity struct {
	Actor         auth.Actor
	Authenticated bool
}

// Anonymous is the identity of connections presenting no valid token.
var Anonymous = Identity{}

// TokenValidator verifies a raw bearer token. The default is the shared
// JWT validation; tests substitute their own.
type TokenValidator func(token string) (*auth.Claims, error)

// Authenticator resolves connection credentials.
type Authenticator struct {
	validate TokenValidator
}

// NewAuthenticator builds an Authenticator. A nil validator falls back to
// auth.ParseAndValidate.
func NewAuthenticator(validate TokenValidator) *Authenticator {
	if validate == nil {
		validate = auth.ParseAndValidate
	}
	return &Authenticator{validate: validate}
}

// OnConnect resolves the handshake credential. A missing or invalid token
// does NOT reject the connection: the session proceeds as Anonymous and
// every privileged destination check denies it afterwards. This
// fail-open-to-anonymous, fail-closed-to-privileged behavior is a policy
// choice carried over from the upstream handshake contract; tightening it
// would break clients that connect before logging in.
func (a *Authenticator) OnConnect(rawToken string) Identity {
	if rawToken == "" {
		return Anonymous
	}
	claims, err := a.validate(rawToken)
	if err != nil {
		return Anonymous
	}
	actor := claims.Actor()
	if actor.Role == auth.RolePending {
		// Pending accounts authenticate but hold no privileges; they are
		// indistinguishable from anonymous for policy purposes.
		return Anonymous
	}
	return Identity{Actor: actor, Authenticated: true}
}
