package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenTypeAccess and TokenTypeRefresh discriminate the two halves of a
	// pair so one can never be presented in place of the other.
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256-signed token pairs. The signing key is
// injected configuration so it can be rotated without code changes.
type Issuer struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer) error

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return errors.New("access ttl must be greater than zero")
		}
		i.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return errors.New("refresh ttl must be greater than zero")
		}
		i.refreshTTL = ttl
		return nil
	}
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if strings.TrimSpace(name) != "" {
			i.issuer = strings.TrimSpace(name)
		}
		return nil
	}
}

// NewIssuer constructs an Issuer. The access lifetime must not exceed the
// refresh lifetime.
func NewIssuer(key []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	iss := &Issuer{
		key:        key,
		issuer:     "sentra",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	if iss.accessTTL > iss.refreshTTL {
		return nil, errors.New("access ttl exceeds refresh ttl")
	}
	return iss, nil
}

// Issue signs a fresh access+refresh pair for the principal. Both tokens
// reference the session so server-side revocation can outvote JWT expiry.
func (i *Issuer) Issue(principalID, role, sessionID string, now time.Time) (TokenPair, error) {
	if strings.TrimSpace(principalID) == "" {
		return TokenPair{}, errors.New("principal id is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return TokenPair{}, errors.New("session id is required")
	}
	now = now.UTC()
	access, accessExp, err := i.sign(principalID, role, sessionID, TokenTypeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(principalID, role, sessionID, TokenTypeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(principalID, role, sessionID, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Role:      role,
		TokenType: tokenType,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, exp, nil
}

// Parse verifies signature and claims and rejects tokens of the wrong type.
func (i *Issuer) Parse(token, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.key, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
