package core

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned when no access token is available.
var ErrNoCredentials = errors.New("no access token available")

// CredentialProvider is the single source of the current access token.
// It is injected into the components that need it.
type CredentialProvider interface {
	// AccessToken returns a usable access token or an error wrapping ErrNoCredentials.
	AccessToken(ctx context.Context) (string, error)

	// OnTokenExpiring registers fn to be called shortly before the current token
	// expires. The returned function removes the registration.
	OnTokenExpiring(fn func()) (unsubscribe func())

	// OnTokenRefreshed registers fn to be called after a new token was obtained.
	OnTokenRefreshed(fn func()) (unsubscribe func())
}
