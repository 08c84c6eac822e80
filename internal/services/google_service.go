package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/core/sheets"
)

const oauthStateTTL = 10 * time.Minute

// GoogleStatus reports whether spreadsheet export is available to a user.
type GoogleStatus struct {
	Connected bool       `json:"connected"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GoogleService runs the OAuth connect flow. The state parameter is a short
// lived token naming the user, paired with a nonce kept in a cookie, because
// the callback arrives as a browser redirect without the bearer header.
type GoogleService struct {
	oauth  *oauth2.Config
	db     db.DbClient
	secret []byte
	logger *zap.Logger
	now    func() time.Time
}

func NewGoogleService(oauth *oauth2.Config, dbc db.DbClient, stateSecret string, logger *zap.Logger) *GoogleService {
	return &GoogleService{oauth: oauth, db: dbc, secret: []byte(stateSecret), logger: logger, now: time.Now}
}

// Start returns the consent URL and the nonce the caller must store in a
// cookie for the callback.
func (s *GoogleService) Start(userID string) (authURL, nonce string, err error) {
	if s.oauth == nil || s.oauth.ClientID == "" {
		return "", "", core.InvalidState("google is not configured")
	}
	nonce = uuid.NewString()
	claims := jwt.MapClaims{
		"user_id": userID,
		"nonce":   nonce,
		"exp":     s.now().Add(oauthStateTTL).Unix(),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	authURL = s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	return authURL, nonce, nil
}

// Callback checks state against the cookie nonce, exchanges the code and
// stores the tokens. It returns the user the connection belongs to.
func (s *GoogleService) Callback(ctx context.Context, state, nonce, code string) (string, error) {
	if s.oauth == nil {
		return "", core.InvalidState("google is not configured")
	}
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", core.InvalidState("invalid oauth state")
	}
	userID, _ := claims["user_id"].(string)
	if want, _ := claims["nonce"].(string); userID == "" || nonce == "" || want != nonce {
		return "", core.InvalidState("invalid oauth state")
	}
	if code == "" {
		return "", core.InvalidState("missing authorization code")
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", core.Upstream("google token exchange", err)
	}
	if err := s.db.UpsertGoogleConnection(ctx, sheets.ConnectionOf(userID, token)); err != nil {
		return "", err
	}
	s.logger.Info("google connected", zap.String("user_id", userID))
	return userID, nil
}

func (s *GoogleService) Status(ctx context.Context, userID string) (*GoogleStatus, error) {
	c, err := s.db.GetGoogleConnection(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return &GoogleStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	st := &GoogleStatus{Connected: true, ExpiresAt: c.ExpiresAt}
	if c.Scope != nil {
		st.Scope = *c.Scope
	}
	return st, nil
}
