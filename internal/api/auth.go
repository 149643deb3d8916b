package api

import (
	"errors"
	"net/http"
	"strings"

	"aurora-backend/internal/identity"
	"aurora-backend/pkg/api"

	"github.com/go-chi/chi/v5"
)

type AuthService struct {
	auth *identity.Service
}

func NewAuthService(auth *identity.Service) *AuthService {
	return &AuthService{auth: auth}
}

func (s *AuthService) AddRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", RestHandler(s.SignIn))

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(s.auth))
			r.Post("/signout", RestHandler(s.SignOut))
			r.Get("/me", RestHandler(s.Me))
		})
	})
}

func authError(err error) error {
	if errors.Is(err, identity.ErrAuth) {
		return CodedError(http.StatusUnauthorized, err)
	}
	return CodedErrorf(http.StatusInternalServerError, "authentication is currently unavailable")
}

func (s *AuthService) SignIn(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SignInRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Credential) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "credential is required")
	}

	token, id, err := s.auth.SignIn(r.Context(), req.Credential)
	if err != nil {
		return nil, authError(err)
	}

	return api.SignInResponse{Token: token.String(), User: convertUser(id)}, nil
}

func (s *AuthService) SignOut(r *http.Request) (any, error) {
	if err := s.auth.SignOut(r.Context(), identity.TokenFromContext(r.Context())); err != nil {
		return nil, authError(err)
	}
	return nil, nil
}

func (s *AuthService) Me(r *http.Request) (any, error) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not signed in")
	}
	return convertUser(id), nil
}
