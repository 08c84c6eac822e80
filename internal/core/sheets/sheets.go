package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Scopes requested when a user connects Google.
var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.file",
	"openid",
	"email",
	"profile",
}

// OAuthConfig builds the OAuth2 client used for connect and refresh.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenStore persists per-user Google credentials.
type TokenStore interface {
	GetGoogleConnection(ctx context.Context, userID string) (*models.GoogleConnection, error)
	UpsertGoogleConnection(ctx context.Context, c *models.GoogleConnection) error
}

// TokenOf converts a stored connection to an oauth2 token.
func TokenOf(c *models.GoogleConnection) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: c.AccessToken, TokenType: c.TokenType}
	if c.RefreshToken != nil {
		tok.RefreshToken = *c.RefreshToken
	}
	if c.ExpiresAt != nil {
		tok.Expiry = *c.ExpiresAt
	}
	return tok
}

// ConnectionOf converts a token grant to a row for userID.
func ConnectionOf(userID string, tok *oauth2.Token) *models.GoogleConnection {
	c := &models.GoogleConnection{
		UserID:      userID,
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		c.RefreshToken = &rt
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		c.ExpiresAt = &exp
	}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		c.Scope = &s
	}
	return c
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	base   oauth2.TokenSource
	store  TokenStore
	userID string
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.UpsertGoogleConnection(ctx, ConnectionOf(s.userID, tok)); err != nil {
		s.logger.Warn("failed to persist refreshed google token", zap.String("user_id", s.userID), zap.Error(err))
	}
	return tok, nil
}

// Provider builds spreadsheet clients from stored user credentials.
type Provider struct {
	oauth  *oauth2.Config
	store  TokenStore
	logger *zap.Logger
	opts   []option.ClientOption
}

func NewProvider(oauth *oauth2.Config, store TokenStore, logger *zap.Logger, opts ...option.ClientOption) *Provider {
	return &Provider{oauth: oauth, store: store, logger: logger, opts: opts}
}

func (p *Provider) ForUser(ctx context.Context, userID string) (core.SpreadsheetClient, error) {
	conn, err := p.store.GetGoogleConnection(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.InvalidState("google not connected")
	}
	if err != nil {
		return nil, err
	}

	tok := TokenOf(conn)
	ts := &persistingSource{
		base:   p.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		store:  p.store,
		userID: userID,
		logger: p.logger,
		last:   tok.AccessToken,
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, p.opts...)
	return NewClient(ctx, opts...)
}

// Client writes spreadsheets through the Sheets v4 API.
type Client struct {
	srv *gsheets.Service
}

func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	srv, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{srv: srv}, nil
}

func (c *Client) CreateSpreadsheet(ctx context.Context, title string, sheetTitles []string) (*core.Spreadsheet, error) {
	ss := &gsheets.Spreadsheet{
		Properties: &gsheets.SpreadsheetProperties{Title: title},
	}
	for _, t := range sheetTitles {
		ss.Sheets = append(ss.Sheets, &gsheets.Sheet{Properties: &gsheets.SheetProperties{Title: t}})
	}

	out, err := c.srv.Spreadsheets.Create(ss).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create spreadsheet: %w", err)
	}
	return &core.Spreadsheet{ID: out.SpreadsheetId, URL: out.SpreadsheetUrl}, nil
}

// BatchWriteValues writes every range in a single call, values as entered.
func (c *Client) BatchWriteValues(ctx context.Context, spreadsheetID string, data []core.ValueRange) error {
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, d := range data {
		values := make([][]interface{}, len(d.Rows))
		for i, row := range d.Rows {
			cells := make([]interface{}, len(row))
			for j, v := range row {
				cells[j] = v
			}
			values[i] = cells
		}
		req.Data = append(req.Data, &gsheets.ValueRange{Range: d.Range, Values: values})
	}

	if _, err := c.srv.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write values: %w", err)
	}
	return nil
}

var (
	_ core.SpreadsheetClient   = (*Client)(nil)
	_ core.SpreadsheetProvider = (*Provider)(nil)
)
