// server/internal/auth/auth.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"lab-booking-api-server/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Session is the identity of the caller for the duration of one request.
// It is only ever built from a verified token.
type Session struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// JWTClaims defines the payload for the JWT.
type JWTClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Hashing
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(cfg config.JWTConfig) (*Tokens, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	ttl := 24 * time.Hour
	if cfg.Expiration != "" {
		d, err := time.ParseDuration(cfg.Expiration)
		if err != nil {
			return nil, fmt.Errorf("invalid jwt expiration %q: %w", cfg.Expiration, err)
		}
		ttl = d
	}
	return &Tokens{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}, nil
}

// GenerateJWT issues a token for s. The user id travels as the subject.
func (t *Tokens) GenerateJWT(s Session) (string, error) {
	now := t.now()
	claims := &JWTClaims{
		Name:  s.Name,
		Email: s.Email,
		Role:  s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses tokenString and returns the session it carries.
func (t *Tokens) Verify(tokenString string) (Session, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return Session{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Role == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{
		UserID: claims.Subject,
		Name:   claims.Name,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
