package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/autonest/backend/internal/config"
	"github.com/autonest/backend/internal/models"
)

// ErrInvalidToken is returned for a missing, expired, or badly signed token.
var ErrInvalidToken = errors.New("invalid token")

// AccountProvisioner is satisfied by *repository.AccountRepo.
type AccountProvisioner interface {
	Ensure(ctx context.Context, a *models.Account) (*models.Account, error)
}

type Service interface {
	// Authenticate verifies an identity token and returns the caller's
	// account, provisioning it with the signup grant on first sight.
	Authenticate(ctx context.Context, token string) (*models.Account, error)
}

type service struct {
	accounts       AccountProvisioner
	cfg            config.AuthConfig
	secret         []byte
	defaultCredits int64
}

func NewService(accounts AccountProvisioner, cfg config.AuthConfig, defaultCredits int64) *service {
	return &service{
		accounts:       accounts,
		cfg:            cfg,
		secret:         []byte(cfg.JWTSecret),
		defaultCredits: defaultCredits,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// Claims are the identity provider's token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

func (s *service) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	c, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Ensure(ctx, &models.Account{
		ID:          c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		PhotoURL:    c.Picture,
		Credits:     s.defaultCredits,
		IsAdmin:     s.cfg.IsAdminEmail(c.Email),
	})
	if err != nil {
		return nil, fmt.Errorf("provision account: %w", err)
	}
	acc.EmailVerified = c.EmailVerified
	return acc, nil
}

func (s *service) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// IssueToken signs a token with the configured secret. Production tokens
// come from the identity provider; this is used for local development.
func (s *service) IssueToken(subject, email, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:         email,
		EmailVerified: true,
		Name:          name,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}
