package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com"

// GoogleProvider verifies Google ID tokens against the tokeninfo endpoint.
type GoogleProvider struct {
	client   *resty.Client
	clientId string
}

func NewGoogleProvider(clientId string) *GoogleProvider {
	return newGoogleProvider(googleTokenInfoURL, clientId)
}

func newGoogleProvider(baseURL, clientId string) *GoogleProvider {
	return &GoogleProvider{
		client:   resty.New().SetBaseURL(baseURL),
		clientId: clientId,
	}
}

type tokenInfoResponse struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Aud     string `json:"aud"`
}

func (p *GoogleProvider) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing id token", ErrAuth)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("id_token", credential).
		Get("/tokeninfo")
	if err != nil {
		slog.Error("unable to reach google tokeninfo", "error", err)
		return Identity{}, fmt.Errorf("%w: unable to verify id token", ErrAuth)
	}

	if !res.IsSuccess() {
		slog.Warn("google rejected id token", "status_code", res.StatusCode(), "body", res.String())
		return Identity{}, fmt.Errorf("%w: invalid id token", ErrAuth)
	}

	var info tokenInfoResponse
	if err := json.Unmarshal(res.Body(), &info); err != nil {
		slog.Error("error parsing response from google tokeninfo", "error", err)
		return Identity{}, fmt.Errorf("%w: invalid tokeninfo response", ErrAuth)
	}

	if p.clientId != "" && info.Aud != p.clientId {
		slog.Warn("id token issued for another client", "aud", info.Aud)
		return Identity{}, fmt.Errorf("%w: id token audience mismatch", ErrAuth)
	}

	if info.Sub == "" {
		return Identity{}, fmt.Errorf("%w: id token has no subject", ErrAuth)
	}

	return Identity{
		Id:          info.Sub,
		DisplayName: info.Name,
		Email:       info.Email,
		AvatarURL:   info.Picture,
	}, nil
}

// Google ID tokens expire on their own; there is nothing to revoke.
func (p *GoogleProvider) Deauthenticate(ctx context.Context, id Identity) error {
	return nil
}
