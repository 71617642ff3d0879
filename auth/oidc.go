package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/types"
)

const providerCacheSize = 16

// OIDCVerifier verifies OIDC ID tokens against one of the configured providers. The participant id is the "email"
// claim (the subject if no email is present), so make sure it is unique across the user base.
type OIDCVerifier struct {
	configs   []config.OIDCConfig
	verifiers *lru.Cache // provider name -> *oidc.IDTokenVerifier
}

func NewOIDCVerifier(configs []config.OIDCConfig) (*OIDCVerifier, error) {
	cache, err := lru.New(providerCacheSize)
	if err != nil {
		return nil, err
	}
	return &OIDCVerifier{configs: configs, verifiers: cache}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, hs Handshake) (types.Participant, error) {
	if hs.Token == "" {
		return types.Participant{}, fmt.Errorf("no token provided: %w", ErrUnauthorized)
	}
	verifier, err := v.verifier(hs.Provider)
	if err != nil {
		return types.Participant{}, err
	}
	idToken, err := verifier.Verify(ctx, hs.Token)
	if err != nil {
		globals.AppLogger.Debug("could not verify id token", "provider", hs.Provider, "error", err)
		return types.Participant{}, fmt.Errorf("id token rejected: %w", ErrUnauthorized)
	}

	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	err = idToken.Claims(&claims)
	if err != nil {
		return types.Participant{}, fmt.Errorf("could not parse claims: %w", ErrUnauthorized)
	}
	p := types.Participant{
		Id:    claims.Email,
		Name:  hs.Name,
		Email: claims.Email,
	}
	if p.Id == "" {
		p.Id = idToken.Subject
	}
	if claims.Name != "" {
		p.Name = claims.Name
	}
	return p, nil
}

// verifier returns the (cached) token verifier of the named provider. Provider discovery performs HTTP requests,
// so the result is kept. The provider outlives the request, hence the background context.
func (v *OIDCVerifier) verifier(providerName string) (*oidc.IDTokenVerifier, error) {
	if cached, ok := v.verifiers.Get(providerName); ok {
		return cached.(*oidc.IDTokenVerifier), nil
	}
	var oidcConf *config.OIDCConfig
	for i := range v.configs {
		if v.configs[i].Name == providerName {
			oidcConf = &v.configs[i]
			break
		}
	}
	if oidcConf == nil {
		return nil, fmt.Errorf("unknown oidc provider %q: %w", providerName, ErrUnauthorized)
	}
	provider, err := oidc.NewProvider(context.Background(), oidcConf.ProviderUrl)
	if err != nil {
		return nil, fmt.Errorf("could not discover oidc provider %q: %v: %w", providerName, err, ErrUnauthorized)
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	v.verifiers.Add(providerName, verifier)
	return verifier, nil
}
