package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig holds signing material and lifetimes for both token types
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// TokenManager mints and verifies access and refresh tokens. The two types
// are signed with independent secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// VerifyResult is the outcome of Verify. Expired is reported separately so
// callers can decide to attempt a refresh.
type VerifyResult struct {
	Valid   bool
	Claims  *models.TokenClaims
	Err     error
	Expired bool
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		now:           time.Now,
	}, nil
}

// AccessExpiry returns the configured access-token lifetime
func (tm *TokenManager) AccessExpiry() time.Duration { return tm.accessExpiry }

// RefreshExpiry returns the configured refresh-token lifetime
func (tm *TokenManager) RefreshExpiry() time.Duration { return tm.refreshExpiry }

// IssueAccess creates a short-lived access token bound to a session
func (tm *TokenManager) IssueAccess(accountID, role, sessionID string) (string, error) {
	claims := tm.baseClaims(models.TokenTypeAccess, accountID, role, sessionID, tm.accessExpiry)
	return tm.sign(claims, tm.accessSecret)
}

// IssueRefresh creates a long-lived refresh token. familyID and fingerprint
// are optional; the fingerprint is embedded only as a hash.
func (tm *TokenManager) IssueRefresh(accountID, role, sessionID, familyID, fingerprint string) (string, error) {
	claims := tm.baseClaims(models.TokenTypeRefresh, accountID, role, sessionID, tm.refreshExpiry)
	claims.FamilyID = familyID
	if fingerprint != "" {
		claims.FingerprintHash = pkgauth.HashToken(fingerprint)
	}
	return tm.sign(claims, tm.refreshSecret)
}

func (tm *TokenManager) baseClaims(tokenType, accountID, role, sessionID string, ttl time.Duration) *models.TokenClaims {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:      tokenType,
		AccountID: accountID,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tm.audience != "" {
		claims.Audience = jwt.ClaimStrings{tm.audience}
	}
	return claims
}

func (tm *TokenManager) sign(claims *models.TokenClaims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return tokenString, nil
}

// Verify checks signature, issuer, audience, type and expiry
func (tm *TokenManager) Verify(tokenString, expectedType string) VerifyResult {
	var secret []byte
	switch expectedType {
	case models.TokenTypeAccess:
		secret = tm.accessSecret
	case models.TokenTypeRefresh:
		secret = tm.refreshSecret
	default:
		return VerifyResult{Err: fmt.Errorf("%w: unknown token type %q", models.ErrTokenInvalid, expectedType)}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return VerifyResult{Expired: true, Err: models.ErrTokenExpired}
		}
		return VerifyResult{Err: fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)}
	}

	if !token.Valid {
		return VerifyResult{Err: models.ErrTokenInvalid}
	}

	if claims.Type != expectedType {
		return VerifyResult{Err: fmt.Errorf("%w: expected %s token", models.ErrTokenInvalid, expectedType)}
	}

	if claims.AccountID == "" || claims.SessionID == "" {
		return VerifyResult{Err: fmt.Errorf("%w: missing subject", models.ErrTokenInvalid)}
	}

	return VerifyResult{Valid: true, Claims: claims}
}
