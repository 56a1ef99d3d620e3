package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptyToken   = errors.New("empty token")
)

type Config struct {
	IssuerURL         string
	ClientID          string
	SkipClientIDCheck bool
	// UserInfoFallback 為 true 時，無法以 JWT 驗證的 token 會改用 userinfo endpoint 驗證 (opaque access token)
	UserInfoFallback bool
}

// Provider 驗證 Bearer token 並取出使用者身分
type Provider struct {
	*oidc.Provider

	verifier *oidc.IDTokenVerifier
	config   Config
}

// NewProvider 透過 issuer 的 discovery document 建立 Provider
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	const op = "NewProvider"
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create provider, err=%w", op, err)
	}
	return newProvider(provider, config), nil
}

// NewProviderFromEndpoints 不經過 discovery，直接以已知的 endpoint 建立 Provider
func NewProviderFromEndpoints(ctx context.Context, endpoints oidc.ProviderConfig, config Config) *Provider {
	if endpoints.IssuerURL == "" {
		endpoints.IssuerURL = config.IssuerURL
	}
	return newProvider(endpoints.NewProvider(ctx), config)
}

func newProvider(provider *oidc.Provider, config Config) *Provider {
	return &Provider{
		Provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          config.ClientID,
			SkipClientIDCheck: config.SkipClientIDCheck,
		}),
		config: config,
	}
}

// Verify 驗證 token，成功時回傳 token 所屬的使用者
func (p *Provider) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	const op = "Verify"
	if rawToken == "" {
		return nil, fmt.Errorf("[%s] %w", op, ErrEmptyToken)
	}

	idToken, verifyErr := p.verifier.Verify(ctx, rawToken)
	if verifyErr == nil {
		var c claims
		if err := idToken.Claims(&c); err != nil {
			return nil, fmt.Errorf("[%s] %w: Fail to parse claims, err=%w", op, ErrInvalidToken, err)
		}
		return &Identity{Subject: idToken.Subject, Email: c.Email.Email, Name: c.displayName()}, nil
	}
	if !p.config.UserInfoFallback {
		return nil, fmt.Errorf("[%s] %w, err=%w", op, ErrInvalidToken, verifyErr)
	}

	info, err := p.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: rawToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w, err=%w", op, ErrInvalidToken, errors.Join(verifyErr, err))
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("[%s] %w: userinfo without subject", op, ErrInvalidToken)
	}
	var c claims
	if err := info.Claims(&c); err != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to parse userinfo claims, err=%w", op, ErrInvalidToken, err)
	}
	return &Identity{Subject: info.Subject, Email: info.Email, Name: c.displayName()}, nil
}
