// Package identity resolves sign-in credentials to user identities and keeps
// track of who is signed in on a connection.
package identity

import (
	"context"
	"errors"
)

var ErrAuth = errors.New("authentication failed")

// Identity is immutable for the lifetime of a sign-in. Id is the partition key
// for everything the user stores.
type Identity struct {
	Id          string
	DisplayName string
	Email       string
	AvatarURL   string
}

type Provider interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)

	Deauthenticate(ctx context.Context, id Identity) error
}
