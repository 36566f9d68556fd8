package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"studyrag/internal/model"
	"studyrag/internal/pkg/jwtutil"
	"studyrag/internal/repository"
)

type AuthService struct {
	users      repository.UserStore
	tokens     repository.RefreshTokenStore
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

type LoginInput struct {
	Username string
	Password string
}

// TokenPair is one access+refresh issuance. ExpiresIn is the access token
// lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AuthResult struct {
	Pair TokenPair
	User *model.User
}

func NewAuthService(
	users repository.UserStore,
	tokens repository.RefreshTokenStore,
	jwtSecret string,
	accessTTL, refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if username == "" || email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, ErrUsernameExists
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, ErrEmailExists
		}
		return nil, err
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Pair: *pair, User: user}, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	if !user.Active {
		return nil, ErrForbidden
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Pair: *pair, User: user}, nil
}

// Rotate exchanges a refresh token for a fresh access+refresh pair. The old
// value is consumed first: of concurrent rotations of the same value exactly
// one succeeds, the rest observe ErrInvalidToken.
func (s *AuthService) Rotate(ctx context.Context, refreshValue string) (*TokenPair, error) {
	refreshValue = strings.TrimSpace(refreshValue)
	if refreshValue == "" {
		return nil, ErrInvalidInput
	}

	token, err := s.tokens.Consume(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if token.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if !user.Active {
		return nil, ErrForbidden
	}

	return s.issueTokenPair(ctx, user)
}

// Logout revokes one refresh token. Revoking an unknown or already revoked
// value is a no-op, not an error.
func (s *AuthService) Logout(ctx context.Context, refreshValue string) error {
	refreshValue = strings.TrimSpace(refreshValue)
	if refreshValue == "" {
		return ErrInvalidInput
	}
	return s.tokens.Revoke(ctx, refreshValue)
}

// LogoutAll revokes every refresh token owned by the subject.
func (s *AuthService) LogoutAll(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return ErrInvalidInput
	}
	return s.tokens.RevokeAll(ctx, subjectID)
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *model.User) (*TokenPair, error) {
	access, err := jwtutil.GenerateToken(s.jwtSecret, s.accessTTL, user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}

	refreshValue, err := newRefreshValue()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	refresh := &model.RefreshToken{
		Token:     refreshValue,
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Save(ctx, refresh); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshValue,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func newRefreshValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
