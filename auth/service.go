package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleWorker   Role = "worker"
)

// DefaultTTL is the lifetime of tokens issued without an explicit TTL.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidToken signals a token that is malformed, expired, or signed with another key.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidRole signals a role outside the supported set.
	ErrInvalidRole = errors.New("auth: invalid role")
)

// Principal identifies the caller of an API request.
type Principal struct {
	Subject string
	Role    Role
}

// Allows reports whether the principal may act in role. Operators may do everything.
func (p Principal) Allows(role Role) bool {
	return p.Role == RoleOperator || p.Role == role
}

// Service issues and verifies API tokens.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a token service. A non-positive ttl falls back to DefaultTTL.
func NewService(jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(raw))
	if !isValidRole(role) {
		return "", fmt.Errorf("%w %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// IssueToken signs a token for subject acting in role.
func (s *Service) IssueToken(subject string, role Role) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("auth: subject is required")
	}
	if !isValidRole(role) {
		return "", fmt.Errorf("%w %q", ErrInvalidRole, role)
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"exp":  now.Add(s.ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken validates a token and returns its principal.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Principal{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return Principal{Subject: subject, Role: role}, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleOperator, RoleWorker:
		return true
	default:
		return false
	}
}
