package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

type Identity struct {
	UserID   protocol.UserID
	Username string
}

// Resolver turns a bearer credential into an authenticated identity. The
// issuing side lives in the platform's auth service; the coordination core
// only verifies.
type Resolver interface {
	Resolve(ctx context.Context, insecureToken string) (*Identity, error)
}

// TokenResolver verifies signatures against the auth service's published
// key set.
type TokenResolver struct {
	keySet jwk.Set
	issuer string
}

func NewTokenResolver(jwksMessage, issuer string) (*TokenResolver, error) {
	keySet, err := jwk.Parse([]byte(jwksMessage))
	if err != nil {
		return nil, fmt.Errorf("unable parse auth jwks: %w", err)
	}
	return &TokenResolver{keySet: keySet, issuer: issuer}, nil
}

func (r *TokenResolver) Resolve(_ context.Context, insecureToken string) (*Identity, error) {
	token, err := jwt.Parse(
		[]byte(insecureToken),
		jwt.WithKeySet(r.keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(r.issuer),
	)
	if err != nil {
		return nil, errors.Join(ErrAuthInvalid, err)
	}

	if active, exist := token.Get("active"); exist {
		if isActive, ok := active.(bool); ok && !isActive {
			return nil, ErrUserInactive
		}
	}

	userID := token.Subject()
	if userID == "" {
		return nil, ErrAuthInvalid
	}

	username := userID
	if claim, exist := token.Get("username"); exist {
		if name, ok := claim.(string); ok && name != "" {
			username = name
		}
	}

	return &Identity{UserID: userID, Username: username}, nil
}

// InsecureResolver trusts the raw token as the user id. Development only.
type InsecureResolver struct{}

func (InsecureResolver) Resolve(_ context.Context, insecureToken string) (*Identity, error) {
	if insecureToken == "" {
		return nil, ErrAuthInvalid
	}
	return &Identity{UserID: insecureToken, Username: insecureToken}, nil
}

type NewResolverParams struct {
	fx.In

	Logger *slog.Logger
}

func NewResolver(params NewResolverParams) (Resolver, error) {
	jwksMessage := variables.Env(variables.AUTH_JWKS_NAME, variables.AUTH_JWKS_DEFAULT)
	if jwksMessage == "" {
		params.Logger.Warn("AUTH_JWKS not set, tokens are trusted as user ids")
		return InsecureResolver{}, nil
	}
	return NewTokenResolver(
		jwksMessage,
		variables.Env(variables.AUTH_ISSUER_NAME, variables.AUTH_ISSUER_DEFAULT),
	)
}
