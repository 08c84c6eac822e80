package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

type UserService struct {
	db     db.DbClient
	secret []byte
	now    func() time.Time
}

func NewUserService(dbc db.DbClient, jwtSecret string) *UserService {
	return &UserService{db: dbc, secret: []byte(jwtSecret), now: time.Now}
}

// Signup registers a user and returns a session token.
func (s *UserService) Signup(ctx context.Context, firstName, email, password string) (*models.User, string, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, "", core.InvalidState("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, "", core.InvalidState("password must be at least %d characters", minPasswordLength)
	}
	if _, err := s.db.GetUserByEmail(ctx, email); err == nil {
		return nil, "", core.InvalidState("email already registered")
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	user := &models.User{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(firstName),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login checks the password and returns a fresh token. Unknown emails and bad
// passwords look the same to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.db.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, core.ErrNotFound) {
		return nil, "", core.ErrUnauthorized
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", core.ErrUnauthorized
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.db.GetUserByID(ctx, userID)
}

// IssueToken signs an HS256 token carrying the user_id claim.
func (s *UserService) IssueToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     s.now().Unix(),
		"exp":     s.now().Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
