package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultTokenLifetime = 30 * 24 * time.Hour

// SessionService signs accounts in and out. A Session is minted as a JWT
// and every service call receives it explicitly.
type SessionService struct {
	users     *repository.UserRepository
	jwtSecret []byte
	lifetime  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewSessionService creates a new session service
func NewSessionService(users *repository.UserRepository, jwtSecret string, lifetime time.Duration) *SessionService {
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return &SessionService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		lifetime:  lifetime,
		now:       time.Now,
		revoked:   make(map[string]time.Time),
	}
}

type sessionClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

// IssueToken signs a new session for accountID
func (s *SessionService) IssueToken(accountID string) (string, *models.Session, error) {
	now := s.now()
	session := &models.Session{
		AccountID: accountID,
		TokenID:   uuid.NewString(),
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: now.Add(s.lifetime).Truncate(time.Second),
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.TokenID,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		AccountID: accountID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, session, nil
}

// Validate parses a token and returns its session
func (s *SessionService) Validate(tokenString string) (*models.Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.AccountID == "" || claims.ID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}

	session := &models.Session{
		AccountID: claims.AccountID,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// CreateAccount writes a new user and signs them in
func (s *SessionService) CreateAccount(ctx context.Context, params repository.CreateUserParams) (*models.User, string, error) {
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if strings.TrimSpace(params.EmailAddress) == "" {
		return nil, "", fmt.Errorf("email address is required")
	}

	user, err := s.users.Create(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, _, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	log.Info().Str("user_id", user.ID).Msg("Account created")
	return user, token, nil
}

// Login signs in an existing account. The email address must match the
// stored one, ignoring case.
func (s *SessionService) Login(ctx context.Context, accountID, emailAddress string) (string, *models.User, error) {
	user, err := s.users.Get(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(emailAddress), user.EmailAddress) {
		return "", nil, ErrInvalidCredentials
	}

	token, _, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	if err := s.users.TouchLastActive(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to update last active date")
	}
	return token, user, nil
}

// Logout revokes the session's token until it would have expired anyway.
func (s *SessionService) Logout(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, expires := range s.revoked {
		if now.After(expires) {
			delete(s.revoked, id)
		}
	}
	s.revoked[session.TokenID] = session.ExpiresAt

	log.Info().Str("user_id", session.AccountID).Msg("Session ended")
}
