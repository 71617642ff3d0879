package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/folkengine/goname"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/types"
)

const (
	PolicyToken = "token"
	PolicyJWT   = "jwt"
	PolicyOIDC  = "oidc"
)

// ErrUnauthorized is returned (wrapped) whenever a connection cannot prove its identity.
var ErrUnauthorized = errors.New("unauthorized")

// Handshake is the identity data a client presents when opening the socket.
type Handshake struct {
	Token    string
	Name     string
	Email    string
	Provider string // oidc only
}

// HandshakeFromRequest reads the handshake from the upgrade request. The token is taken from the "token" query
// parameter, or from an "Authorization: Bearer" header if the parameter is absent.
func HandshakeFromRequest(r *http.Request) Handshake {
	vals := r.URL.Query()
	hs := Handshake{
		Token:    vals.Get("token"),
		Name:     vals.Get("name"),
		Email:    vals.Get("email"),
		Provider: vals.Get("provider"),
	}
	if hs.Token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			hs.Token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return hs
}

// A Verifier turns a handshake into a verified participant, or rejects it with ErrUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, hs Handshake) (types.Participant, error)
}

// NewVerifier builds the verifier for the configured policy. Exactly one policy is active per process.
func NewVerifier(cfg *config.Config) (Verifier, error) {
	var v Verifier
	switch cfg.AuthConfig.Policy {
	case "", PolicyToken:
		v = TokenVerifier{}

	case PolicyJWT:
		if cfg.AuthConfig.Secret == "" {
			return nil, fmt.Errorf("auth policy %q requires a secret", PolicyJWT)
		}
		v = NewJWTVerifier([]byte(cfg.AuthConfig.Secret), cfg.AuthConfig.Issuer)

	case PolicyOIDC:
		if len(cfg.OIDCConfigs) == 0 {
			return nil, fmt.Errorf("auth policy %q requires at least one oidc provider", PolicyOIDC)
		}
		var err error
		v, err = NewOIDCVerifier(cfg.OIDCConfigs)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("invalid auth policy %q", cfg.AuthConfig.Policy)
	}
	if cfg.AuthConfig.GuestNames {
		v = guestNamer{next: v, newName: func() string {
			return goname.New(goname.FantasyMap).FirstLast() + " (guest)"
		}}
	}
	return v, nil
}

// TokenVerifier trusts the client: any non-empty token is the participant id.
type TokenVerifier struct{}

func (TokenVerifier) Verify(_ context.Context, hs Handshake) (types.Participant, error) {
	if hs.Token == "" {
		return types.Participant{}, fmt.Errorf("no token provided: %w", ErrUnauthorized)
	}
	return types.Participant{
		Id:    hs.Token,
		Name:  hs.Name,
		Email: hs.Email,
	}, nil
}

// guestNamer fills in a generated display name for participants that did not supply one.
type guestNamer struct {
	next    Verifier
	newName func() string
}

func (g guestNamer) Verify(ctx context.Context, hs Handshake) (types.Participant, error) {
	p, err := g.next.Verify(ctx, hs)
	if err != nil {
		return p, err
	}
	if p.Name == "" {
		p.Name = g.newName()
	}
	return p, nil
}
