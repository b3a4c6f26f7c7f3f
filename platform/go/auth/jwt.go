package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is stamped on tokens minted by Signer.
const DefaultIssuer = "rapport-tracker"

// Token is the login response payload.
type Token struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Subject identifies who a token is issued to.
type Subject struct {
	UserID  string
	Email   string
	Name    string
	IsAdmin bool
}

// Signer mints and verifies HS256 access tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner validates the secret and TTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, issuer: DefaultIssuer, now: time.Now}, nil
}

// Issue signs an access token for the subject.
func (s *Signer) Issue(sub Subject) (Token, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return Token{}, errors.New("subject user id is required")
	}

	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub":     sub.UserID,
		"email":   sub.Email,
		"isAdmin": sub.IsAdmin,
		"iss":     s.issuer,
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
	}
	if sub.Name != "" {
		claims["name"] = sub.Name
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{AccessToken: signed, TokenType: "bearer", ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Verify is a VerifyFunc accepting only HS256 tokens from this issuer.
func (s *Signer) Verify(_ context.Context, token string) (map[string]interface{}, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func ExtractJWTToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	const prefix = "Bearer "
	// Case-insensitive prefix match.
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(authHeader[len(prefix):]), true
}
