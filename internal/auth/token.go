package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

var (
	// ErrTokenInvalid is returned when a token is malformed or its signature does not verify
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned when a token has passed its expiration time
	ErrTokenExpired = errors.New("token is expired")
)

// MinSecretLength is the shortest accepted HS256 secret in bytes
const MinSecretLength = 32

// Claims is the payload of an admin token
type Claims struct {
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

const accessTokenType = "access"

// TokenConfig holds token settings
type TokenConfig struct {
	Issuer   string
	Audience string
	TTL      time.Duration
}

// DefaultTokenConfig returns the defaults used by the risk service
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:   "openidx",
		Audience: "risk-service",
		TTL:      15 * time.Minute,
	}
}

// TokenService issues and validates HS256 admin tokens
type TokenService struct {
	secret []byte
	config TokenConfig
	logger *zap.Logger
}

// NewTokenService creates a TokenService. A short secret is a configuration error.
func NewTokenService(secret string, config TokenConfig, logger *zap.Logger) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, apperrors.Configuration(
			fmt.Sprintf("jwt secret must be at least %d bytes", MinSecretLength), nil)
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTokenConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{secret: []byte(secret), config: config, logger: logger}, nil
}

// GenerateAccessToken signs a token for subject with roles
func (ts *TokenService) GenerateAccessToken(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles:     roles,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ts.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{ts.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	ts.logger.Debug("generated token",
		zap.String("subject", subject),
		zap.Strings("roles", roles),
		zap.Duration("ttl", ts.config.TTL))
	return signed, nil
}

// ValidateAccessToken verifies signature, expiry, issuer and audience
func (ts *TokenService) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if ts.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.config.Issuer))
	}
	if ts.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(ts.config.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return ts.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.TokenType != accessTokenType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
