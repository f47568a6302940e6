package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
)

type SessionStore interface {
	Create(ctx context.Context, session SessionRecord) error
	GetSession(ctx context.Context, sid string) (SessionRecord, error)
	DeleteSession(ctx context.Context, sid string) error
	DeleteAllForReseller(ctx context.Context, resellerID int64) error
}

type ResellerStore interface {
	FindByUsername(ctx context.Context, username string) (pgrepo.ResellerRecord, error)
}

type Service struct {
	jwt        *JWTManager
	sessions   SessionStore
	resellers  ResellerStore
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(jwtManager *JWTManager, sessions SessionStore, resellers ResellerStore, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}

	return &Service{
		jwt:        jwtManager,
		sessions:   sessions,
		resellers:  resellers,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Login verifies reseller/operator credentials and issues a bearer token tied
// to a revocable server-side session. Unknown usernames and wrong passwords
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return AuthResult{}, ErrInvalidInput
	}
	if s.resellers == nil || s.sessions == nil || s.jwt == nil {
		return AuthResult{}, fmt.Errorf("auth dependencies are not configured")
	}

	reseller, err := s.resellers.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResellerNotFound) {
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, fmt.Errorf("find reseller: %w", err)
	}
	if !strings.EqualFold(reseller.Status, "active") {
		return AuthResult{}, ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(reseller.PasswordHash), []byte(password)) != nil {
		return AuthResult{}, ErrUnauthorized
	}

	role := enums.Role(strings.ToUpper(strings.TrimSpace(reseller.Role)))
	if role == "" {
		role = enums.RoleReseller
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate session id: %w", err)
	}

	session := SessionRecord{
		SID:        sessionID,
		ResellerID: reseller.ID,
		Role:       role,
		ExpiresAt:  s.now().Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, accessExpires, err := s.jwt.GenerateAccessToken(reseller.ID, sessionID, role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate access token: %w", err)
	}

	return AuthResult{
		AccessToken:   accessToken,
		AccessExpires: accessExpires,
		Me: Me{
			ID:       reseller.ID,
			Username: reseller.Username,
			Role:     role,
		},
	}, nil
}

func (s *Service) Logout(ctx context.Context, sid string) error {
	if strings.TrimSpace(sid) == "" {
		return ErrInvalidInput
	}
	if err := s.sessions.DeleteSession(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, resellerID int64) error {
	if resellerID <= 0 {
		return ErrInvalidInput
	}
	if err := s.sessions.DeleteAllForReseller(ctx, resellerID); err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}
	return nil
}

// ValidateAccessToken checks the bearer signature and that the session behind
// it is still alive, so revocation takes effect before token expiry.
func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (AccessClaims, error) {
	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err != nil {
		return AccessClaims{}, ErrUnauthorized
	}

	session, err := s.sessions.GetSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return AccessClaims{}, ErrUnauthorized
		}
		return AccessClaims{}, fmt.Errorf("get session: %w", err)
	}

	if session.ResellerID != claims.ResellerID || session.Role != claims.Role {
		return AccessClaims{}, ErrUnauthorized
	}
	if s.now().After(session.ExpiresAt) {
		return AccessClaims{}, ErrUnauthorized
	}

	return claims, nil
}

// HashPassword is used by account provisioning tooling.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
