package identity

import (
	"context"
	"fmt"
	"strings"
)

const devPrefix = "dev:"

// DevProvider accepts credentials of the form dev:<id>:<name>:<email>. It
// exists for local development and tests and must not be enabled in production.
type DevProvider struct{}

func (DevProvider) Authenticate(ctx context.Context, credential string) (Identity, error) {
	rest, ok := strings.CutPrefix(credential, devPrefix)
	if !ok {
		return Identity{}, fmt.Errorf("%w: credential must start with %q", ErrAuth, devPrefix)
	}

	parts := strings.SplitN(rest, ":", 3)
	if strings.TrimSpace(parts[0]) == "" {
		return Identity{}, fmt.Errorf("%w: credential has no user id", ErrAuth)
	}

	id := Identity{Id: parts[0], DisplayName: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		id.DisplayName = parts[1]
	}
	if len(parts) > 2 {
		id.Email = parts[2]
	}
	return id, nil
}

func (DevProvider) Deauthenticate(ctx context.Context, id Identity) error {
	return nil
}
