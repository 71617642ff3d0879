package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tcriess/lightspeed-versus/types"
)

// participantClaims is the claims type of signed participant tokens. The subject is the participant id.
type participantClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// JWTVerifier accepts HS256 tokens signed with a shared server secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}
}

func (v *JWTVerifier) Verify(_ context.Context, hs Handshake) (types.Participant, error) {
	token := strings.TrimSpace(hs.Token)
	if token == "" {
		return types.Participant{}, fmt.Errorf("no token provided: %w", ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims participantClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return types.Participant{}, fmt.Errorf("%s: %w", describeJWTError(err), ErrUnauthorized)
	}
	if claims.Subject == "" {
		return types.Participant{}, fmt.Errorf("token has no subject: %w", ErrUnauthorized)
	}
	p := types.Participant{
		Id:    claims.Subject,
		Name:  hs.Name,
		Email: hs.Email,
	}
	if claims.Name != "" {
		p.Name = claims.Name
	}
	if claims.Email != "" {
		p.Email = claims.Email
	}
	return p, nil
}

func describeJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token is expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer mismatch"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "token alg is invalid"
	}
	return "token is invalid"
}

// IssueToken signs a token for p that JWTVerifier accepts until ttl has passed.
func IssueToken(secret []byte, issuer string, p types.Participant, ttl time.Duration) (string, error) {
	if p.Id == "" {
		return "", errors.New("participant id is required")
	}
	now := time.Now()
	claims := participantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Id,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  p.Name,
		Email: p.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
