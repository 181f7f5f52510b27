package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is used when JWTConfig.AccessTokenTTL is unset.
const DefaultAccessTokenTTL = 15 * time.Minute

// accessAudience scopes tokens to the directory API.
const accessAudience = "estatedir-api"

var (
	// ErrAccessTokenInvalid covers malformed, forged and foreign tokens.
	ErrAccessTokenInvalid = errors.New("jwt: access token invalid")
	// ErrAccessTokenExpired means the token was valid but its lifetime has passed.
	ErrAccessTokenExpired = errors.New("jwt: access token expired")
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Subject identifies who an access token is issued to.
type Subject struct {
	UserID    string
	Username  string
	SessionID string
}

// Claims are carried by every access token. The JWT ID equals the session ID so a revoked
// session can be traced from a token.
type Claims struct {
	UserID    string `json:"uid"`
	Username  string `json:"usr,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTService constructs a JWTService; a secret is mandatory.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	svc := &JWTService{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		now:    cfg.Clock,
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultAccessTokenTTL
	}
	if svc.now == nil {
		svc.now = time.Now
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return svc.now() }),
		jwt.WithAudience(accessAudience),
		jwt.WithExpirationRequired(),
	}
	if svc.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(svc.issuer))
	}
	svc.parser = jwt.NewParser(parserOpts...)
	return svc, nil
}

// TTL reports the lifetime of issued access tokens.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue signs an access token for sub and returns it with its expiry.
func (s *JWTService) Issue(sub Subject) (string, time.Time, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return "", time.Time{}, errors.New("jwt: user id is required")
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:    sub.UserID,
		Username:  sub.Username,
		SessionID: sub.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sub.SessionID,
			Subject:   sub.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, audience, issuer and lifetime and returns the claims. Failures
// wrap ErrAccessTokenExpired or ErrAccessTokenInvalid.
func (s *JWTService) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrAccessTokenInvalid)
	}

	var claims Claims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrAccessTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrAccessTokenInvalid, err)
	case claims.UserID == "":
		return nil, fmt.Errorf("%w: missing user id claim", ErrAccessTokenInvalid)
	}
	return &claims, nil
}
