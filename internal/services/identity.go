package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	tokenPath    = "/oauth/token"
	accountPath  = "/v1/account"
	sessionPath  = "/v1/account/sessions/current"
	recoveryPath = "/v1/account/recovery"
)

// IdentityClient implements [IdentityService] against the hosted identity service.
//
// The access token of the active session is held in memory only.
type IdentityClient struct {
	baseURL    string
	config     *oauth2.Config
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

// NewIdentityClient creates a client for the identity service described by cfg.
func NewIdentityClient(cfg shared.IdentityConfig, client *http.Client, logger *log.Logger) *IdentityClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &IdentityClient{
		baseURL: baseURL,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: client,
		logger:     shared.WithLogger(logger, "component", "identity"),
		now:        time.Now,
	}
}

// CreateAccount registers a new account.
func (c *IdentityClient) CreateAccount(ctx context.Context, identifier, secret, displayName string) error {
	body := map[string]string{"identifier": identifier, "secret": secret, "display_name": displayName}

	status, msg, err := c.do(ctx, http.MethodPost, accountPath, body, nil)
	if err != nil {
		return shared.NewAuthError("create account", shared.ErrUnreachable, err)
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return shared.NewAuthError("create account", shared.ErrRegistrationRejected, errors.New(msg))
	default:
		return c.classify("create account", status, msg)
	}
}

// CreateSession signs in with the password grant.
func (c *IdentityClient) CreateSession(ctx context.Context, identifier, secret string) (*models.RenewableCredential, error) {
	token, err := c.config.PasswordCredentialsToken(c.oauthContext(ctx), identifier, secret)
	if err != nil {
		return nil, c.grantError("create session", shared.ErrInvalidCredentials, err)
	}

	c.setToken(token)
	c.logger.Debug("session created", "identifier", identifier, "expiry", token.Expiry)

	return &models.RenewableCredential{
		Identifier:   identifier,
		RefreshToken: token.RefreshToken,
		IssuedAt:     c.now(),
	}, nil
}

// RenewSession exchanges the credential's refresh token for a new session.
func (c *IdentityClient) RenewSession(ctx context.Context, credential *models.RenewableCredential) (*models.RenewableCredential, error) {
	if !credential.Valid() {
		return nil, shared.NewAuthError("renew session", shared.ErrNotAuthenticated, shared.ErrNoCredential)
	}

	src := c.config.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: credential.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, c.grantError("renew session", shared.ErrNotAuthenticated, err)
	}

	c.setToken(token)

	return &models.RenewableCredential{
		Identifier:   credential.Identifier,
		RefreshToken: token.RefreshToken,
		IssuedAt:     c.now(),
	}, nil
}

// CurrentIdentity fetches the identity of the active session.
func (c *IdentityClient) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	if c.accessToken() == "" {
		return nil, shared.NewAuthError("current identity", shared.ErrNotAuthenticated, nil)
	}

	var identity models.Identity
	status, msg, err := c.do(ctx, http.MethodGet, accountPath, nil, &identity)
	if err != nil {
		return nil, shared.NewAuthError("current identity", shared.ErrUnreachable, err)
	}
	if status != http.StatusOK {
		return nil, c.classify("current identity", status, msg)
	}
	return &identity, nil
}

// DestroySession ends the active session. The in-memory token is dropped even when the call fails.
func (c *IdentityClient) DestroySession(ctx context.Context) error {
	if c.accessToken() == "" {
		return nil
	}
	status, msg, err := c.do(ctx, http.MethodDelete, sessionPath, nil, nil)
	c.setToken(nil)
	if err != nil {
		return shared.NewAuthError("destroy session", shared.ErrUnreachable, err)
	}
	if status >= 300 && status != http.StatusUnauthorized {
		return c.classify("destroy session", status, msg)
	}
	return nil
}

// BeginRecovery asks the identity service to send a password reset to identifier.
func (c *IdentityClient) BeginRecovery(ctx context.Context, identifier string) error {
	status, msg, err := c.do(ctx, http.MethodPost, recoveryPath, map[string]string{"identifier": identifier}, nil)
	if err != nil {
		return shared.NewAuthError("begin recovery", shared.ErrUnreachable, err)
	}
	if status >= 300 {
		return c.classify("begin recovery", status, msg)
	}
	return nil
}

// ConfirmRecovery completes a password reset.
func (c *IdentityClient) ConfirmRecovery(ctx context.Context, token, secret string) error {
	body := map[string]string{"token": token, "secret": secret}
	status, msg, err := c.do(ctx, http.MethodPut, recoveryPath, body, nil)
	if err != nil {
		return shared.NewAuthError("confirm recovery", shared.ErrUnreachable, err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnprocessableEntity:
		return shared.NewAuthError("confirm recovery", shared.ErrRegistrationRejected, errors.New(msg))
	default:
		return c.classify("confirm recovery", status, msg)
	}
}

func (c *IdentityClient) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *IdentityClient) setToken(token *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *IdentityClient) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// do performs a JSON request and decodes a 2xx response into out.
// It returns the status code and, for non-2xx responses, the server's error message.
func (c *IdentityClient) do(ctx context.Context, method, path string, body, out any) (int, string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("identity request", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, errorMessage(resp.Body, resp.StatusCode), nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}

// classify maps a non-2xx status onto an [shared.AuthError].
func (c *IdentityClient) classify(op string, status int, msg string) error {
	cause := fmt.Errorf("status %d: %s", status, msg)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return shared.NewAuthError(op, shared.ErrNotAuthenticated, cause)
	case status >= 500:
		return shared.NewAuthError(op, shared.ErrUnreachable, cause)
	default:
		return shared.NewAuthError(op, shared.ErrInvalidCredentials, cause)
	}
}

// grantError classifies a failed token grant. Rejections by the token endpoint map to rejected;
// transport failures and server errors map to [shared.ErrUnreachable].
func (c *IdentityClient) grantError(op string, rejected, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return shared.NewAuthError(op, rejected, err)
	}
	return shared.NewAuthError(op, shared.ErrUnreachable, err)
}

func errorMessage(r io.Reader, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return http.StatusText(status)
}
