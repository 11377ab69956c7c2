package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"ms-validation/internal/config"
)

// Identity is what a verified bearer token says about the caller. Staff
// accounts carry a manager_id claim; sellers only have a subject.
type Identity struct {
	Subject   string `json:"sub"`
	ManagerID string `json:"manager_id,omitempty"`
}

type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}

// OIDCVerifier checks tokens against the identity provider's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	// SkipClientIDCheck: tokens are issued to the scanner apps, not to this service
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := idToken.Claims(&id); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if id.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	return &id, nil
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

type identityClaims struct {
	ManagerID string `json:"manager_id,omitempty"`
	jwt.RegisteredClaims
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, errors.New("empty token")
	}
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	return &Identity{Subject: claims.Subject, ManagerID: claims.ManagerID}, nil
}

// Sign issues an HS256 token; used by tests and local tooling.
func (v *HMACVerifier) Sign(id Identity, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = id.Subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identityClaims{ManagerID: id.ManagerID, RegisteredClaims: claims})
	return token.SignedString(v.secret)
}

// NewVerifier picks OIDC when an issuer is configured, otherwise the shared secret.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (TokenVerifier, error) {
	switch {
	case cfg.OIDCIssuer != "":
		return NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	case cfg.JWTSecret != "":
		return NewHMACVerifier(cfg.JWTSecret), nil
	}
	return nil, errors.New("auth: set OIDC_ISSUER or JWT_SECRET")
}
