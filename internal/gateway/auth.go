package gateway

import "crypto/subtle"

// Authorizer decides whether an event carrying secret may proceed.
type Authorizer interface {
	Authorize(secret string) bool
}

// SecretAuthorizer compares against one shared secret. An empty configured secret
// lets everything through.
type SecretAuthorizer struct {
	secret []byte
}

// NewSecretAuthorizer checks presented secrets against secret. An empty secret admits everyone.
func NewSecretAuthorizer(secret string) *SecretAuthorizer {
	return &SecretAuthorizer{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (a *SecretAuthorizer) Enabled() bool {
	return len(a.secret) > 0
}

// Authorize reports whether secret matches the configured one.
func (a *SecretAuthorizer) Authorize(secret string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(secret)) == 1
}
