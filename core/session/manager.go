package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yeti47/cryovault/core/ccc/logging"
)

const (
	refreshPath = "/api/token/refresh"

	// refreshRejectedDetail is what the token endpoint answers for an unusable refresh token.
	refreshRejectedDetail = "Token is invalid or expired"
)

// Credential is the bearer token pair of an authenticated session.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Request describes one call against the vault API. Body is encoded once and
// replayed unchanged if the call has to be retried.
type Request struct {
	Method string
	Path   string
	Body   any
	// Public requests carry no bearer token and are never renewed.
	Public bool
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type dispatchState string

const (
	stateDispatched      dispatchState = "dispatched"
	stateUnauthorized    dispatchState = "unauthorized"
	stateRenewing        dispatchState = "renewing"
	stateRetryDispatched dispatchState = "retry_dispatched"
	stateAbandoned       dispatchState = "abandoned"
	stateSuccess         dispatchState = "success"
	stateFailure         dispatchState = "failure"
)

// Manager is the session context: it owns the persisted credential pair and runs every
// vault call through the renew-on-expiry-then-retry-once policy. Credential mutations
// and refreshes are serialised by a single mutex.
type Manager struct {
	logger     logging.Logger
	jar        Jar
	serverURL  string
	httpClient *http.Client
	now        func() time.Time
	mu         sync.Mutex
}

type Option func(*Manager)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithClock replaces time.Now, used for the local expiry check.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(logger logging.Logger, jar Jar, serverURL string, opts ...Option) *Manager {
	m := &Manager{
		logger:     logging.OrNop(logger),
		jar:        jar,
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do sends req. On a 401 the access token is renewed with the refresh token and the
// original request is sent exactly once more. A rejected refresh or a second 401 clears
// the session and yields a SessionExpiredError.
func (m *Manager) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if req.Public {
		resp, err := m.dispatch(ctx, req, body, "")
		if err != nil {
			return nil, err
		}
		return m.finish(req, resp)
	}

	access, err := m.jar.Get(AccessTokenName)
	if err != nil {
		return nil, err
	}

	m.trace(req, stateDispatched)
	resp, err := m.dispatch(ctx, req, body, access)
	if err != nil {
		m.trace(req, stateFailure)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return m.finish(req, resp)
	}

	m.trace(req, stateUnauthorized)
	renewed, err := m.renew(ctx, access)
	if err != nil {
		if IsSessionExpiredError(err) {
			m.trace(req, stateAbandoned)
		}
		return nil, err
	}

	m.trace(req, stateRetryDispatched)
	resp, err = m.dispatch(ctx, req, body, renewed)
	if err != nil {
		m.trace(req, stateFailure)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		m.logger.Warn("Renewed access token was rejected", "path", req.Path)
		if err := m.Clear(); err != nil {
			m.logger.Error("Failed to clear session", "error", err)
		}
		m.trace(req, stateAbandoned)
		return nil, NewSessionExpiredError("renewed access token was rejected")
	}
	return m.finish(req, resp)
}

func (m *Manager) finish(req Request, resp *Response) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.trace(req, stateFailure)
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body), Body: resp.Body}
	}
	m.trace(req, stateSuccess)
	return resp, nil
}

func (m *Manager) trace(req Request, state dispatchState) {
	m.logger.Debug("Vault request", "method", req.Method, "path", req.Path, "state", state)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}

func (m *Manager) dispatch(ctx context.Context, req Request, body []byte, access string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, m.serverURL+req.Path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if !req.Public && access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("failed to read response: %w", err))
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

// renew obtains a new access token. staleAccess is the token the server just rejected;
// if another caller already replaced it, the newer token is used without a refresh.
func (m *Manager) renew(ctx context.Context, staleAccess string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.jar.Get(AccessTokenName)
	if err != nil {
		return "", err
	}
	if current != "" && current != staleAccess {
		m.logger.Debug("Access token was renewed concurrently")
		return current, nil
	}

	refresh, err := m.jar.Get(RefreshTokenName)
	if err != nil {
		return "", err
	}
	if refresh == "" {
		m.clearLocked()
		return "", NewSessionExpiredError("not logged in")
	}

	m.logger.Info("Renewing access token")
	resp, err := m.dispatch(ctx, Request{Method: http.MethodPost, Path: refreshPath, Public: true}, mustEncode(refreshRequest{Refresh: refresh}), "")
	if err != nil {
		m.logger.Error("Token refresh failed", "error", err)
		return "", err
	}

	if resp.StatusCode >= 500 {
		return "", NewServerError(resp.StatusCode, errorMessage(resp.Body))
	}

	var payload refreshResponse
	_ = json.Unmarshal(resp.Body, &payload)

	if resp.StatusCode != http.StatusOK || payload.Access == "" || payload.Detail == refreshRejectedDetail {
		m.logger.Warn("Refresh token was rejected", "status", resp.StatusCode)
		m.clearLocked()
		reason := payload.Detail
		if reason == "" {
			reason = "refresh token was rejected"
		}
		return "", NewSessionExpiredError(reason)
	}

	if err := m.jar.Set(AccessTokenName, payload.Access); err != nil {
		return "", err
	}
	if payload.Refresh != "" {
		if err := m.jar.Set(RefreshTokenName, payload.Refresh); err != nil {
			return "", err
		}
	}
	return payload.Access, nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Detail  string `json:"detail"`
}

func mustEncode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// errorMessage extracts the human readable part of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.Detail != "":
		return payload.Detail
	default:
		return payload.Error
	}
}

// Establish persists a freshly issued credential pair.
func (m *Manager) Establish(credential Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.jar.Set(AccessTokenName, credential.AccessToken); err != nil {
		return err
	}
	return m.jar.Set(RefreshTokenName, credential.RefreshToken)
}

// Credential returns the stored token pair. Missing tokens are empty strings.
func (m *Manager) Credential() (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	access, err := m.jar.Get(AccessTokenName)
	if err != nil {
		return Credential{}, err
	}
	refresh, err := m.jar.Get(RefreshTokenName)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) Salt() (string, error) {
	return m.jar.Get(SaltName)
}

func (m *Manager) SetSalt(salt string) error {
	return m.jar.Set(SaltName, salt)
}

func (m *Manager) Username() (string, error) {
	return m.jar.Get(UsernameName)
}

func (m *Manager) SetUsername(username string) error {
	return m.jar.Set(UsernameName, username)
}

// Clear drops the access token, the refresh token and the cached salt.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jar.Remove(AccessTokenName, RefreshTokenName, SaltName)
}

// ClearAll drops everything Clear does plus the remembered username.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jar.Remove(AccessTokenName, RefreshTokenName, SaltName, UsernameName)
}

func (m *Manager) clearLocked() {
	if err := m.jar.Remove(AccessTokenName, RefreshTokenName, SaltName); err != nil {
		m.logger.Error("Failed to clear session", "error", err)
	}
}
