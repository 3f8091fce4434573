package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/auth"
	"github.com/juralen/tokengate/internal/password"
	"github.com/juralen/tokengate/internal/refresh"
	"github.com/juralen/tokengate/internal/token"
)

type memoryDirectory struct {
	mu   sync.Mutex
	byID map[string]*auth.User
}

func (d *memoryDirectory) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byID {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (d *memoryDirectory) FindByID(ctx context.Context, id string) (*auth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (d *memoryDirectory) FindByResetDigest(ctx context.Context, digest string) (*auth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byID {
		if u.ResetTokenDigest != "" && u.ResetTokenDigest == digest {
			copied := *u
			return &copied, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (d *memoryDirectory) Update(ctx context.Context, user *auth.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[user.ID]; !ok {
		return auth.ErrUserNotFound
	}
	copied := *user
	d.byID[user.ID] = &copied
	return nil
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens []string
}

func (n *captureNotifier) SendPasswordResetMessage(ctx context.Context, email, resetToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, resetToken)
	return nil
}

func (n *captureNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.tokens)
	return n.tokens[len(n.tokens)-1]
}

type apiFixture struct {
	server   *httptest.Server
	notifier *captureNotifier
	users    *memoryDirectory
}

func newAPIFixture(t *testing.T, users ...*auth.User) *apiFixture {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)
	gate, err := password.NewGate(hasher, 4)
	require.NoError(t, err)

	issuer, err := token.NewIssuer(token.IssuerConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    15 * time.Minute,
		Issuer: "tokengate-test",
	})
	require.NoError(t, err)

	directory := &memoryDirectory{byID: make(map[string]*auth.User)}
	for _, u := range users {
		copied := *u
		directory.byID[u.ID] = &copied
	}
	notifier := &captureNotifier{}

	service, err := auth.NewService(zap.NewNop(), directory, refresh.NewMemoryStore(), gate, issuer, notifier, auth.Config{
		RefreshTTL: time.Hour,
		ResetTTL:   24 * time.Hour,
	})
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(zap.NewNop(), service, issuer).Router())
	t.Cleanup(server.Close)

	return &apiFixture{server: server, notifier: notifier, users: directory}
}

func testUser(t *testing.T, id, email, pw string, mutate func(*auth.User)) *auth.User {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)
	hash, err := hasher.Hash(pw)
	require.NoError(t, err)

	u := &auth.User{ID: id, Email: email, PasswordHash: hash, Role: "member", Active: true}
	if mutate != nil {
		mutate(u)
	}
	return u
}

func postJSON(t *testing.T, url, body string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestLoginEndpoint(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	resp := postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"hunter2abc"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body tokenPairResponse
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, int64(900), body.ExpiresIn)
	require.NotNil(t, body.User)
	assert.Equal(t, "u1", body.User.ID)
	assert.Equal(t, "member", body.User.Role)
}

func TestLoginEndpointFailures(t *testing.T) {
	fx := newAPIFixture(t,
		testUser(t, "u1", "a@example.com", "hunter2abc", nil),
		testUser(t, "u2", "off@example.com", "hunter2abc", func(u *auth.User) { u.Active = false }),
	)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"wrong password", `{"email":"a@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"x@example.com","password":"hunter2abc"}`, http.StatusUnauthorized},
		{"inactive user", `{"email":"off@example.com","password":"hunter2abc"}`, http.StatusForbidden},
		{"malformed body", `{"email":`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, fx.server.URL+"/auth/login", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestRefreshEndpointRotation(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	resp := postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"hunter2abc"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login tokenPairResponse
	decodeBody(t, resp, &login)

	resp = postJSON(t, fx.server.URL+"/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed tokenPairResponse
	decodeBody(t, resp, &refreshed)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.Nil(t, refreshed.User)

	// Replay of the consumed token.
	resp = postJSON(t, fx.server.URL+"/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The rotated token still works.
	resp = postJSON(t, fx.server.URL+"/auth/refresh", `{"refreshToken":"`+refreshed.RefreshToken+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	resp := postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"hunter2abc"}`)
	var login tokenPairResponse
	decodeBody(t, resp, &login)

	for i := 0; i < 2; i++ {
		resp = postJSON(t, fx.server.URL+"/auth/logout", `{"refreshToken":"`+login.RefreshToken+`"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	// No body at all is still fine.
	resp = postJSON(t, fx.server.URL+"/auth/logout", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, fx.server.URL+"/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForgotPasswordBytesIdentical(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	read := func(body string) (int, string) {
		resp := postJSON(t, fx.server.URL+"/auth/forgot-password", body)
		var buf strings.Builder
		_, err := io.Copy(&buf, resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, buf.String()
	}

	knownStatus, knownBody := read(`{"email":"a@example.com"}`)
	unknownStatus, unknownBody := read(`{"email":"nobody@example.com"}`)

	assert.Equal(t, http.StatusOK, knownStatus)
	assert.Equal(t, knownStatus, unknownStatus)
	assert.Equal(t, knownBody, unknownBody)
}

func TestResetPasswordEndpoint(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	resp := postJSON(t, fx.server.URL+"/auth/forgot-password", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resetToken := fx.notifier.lastToken(t)

	resp = postJSON(t, fx.server.URL+"/auth/reset-password", `{"token":"`+resetToken+`","newPassword":"weak"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postJSON(t, fx.server.URL+"/auth/reset-password", `{"token":"`+resetToken+`","newPassword":"newpassword1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Single use: second attempt reports a dead link, not an auth failure.
	resp = postJSON(t, fx.server.URL+"/auth/reset-password", `{"token":"`+resetToken+`","newPassword":"newpassword1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"newpassword1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForceChangePasswordEndpoint(t *testing.T) {
	fx := newAPIFixture(t,
		testUser(t, "u1", "a@example.com", "hunter2abc", func(u *auth.User) { u.MustChangePassword = true }),
	)

	resp := postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"hunter2abc"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login tokenPairResponse
	decodeBody(t, resp, &login)
	require.NotNil(t, login.User)
	assert.True(t, login.User.MustChangePassword)

	// No bearer token.
	resp = postJSON(t, fx.server.URL+"/auth/force-change-password", `{"newPassword":"newpassword1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, fx.server.URL+"/auth/force-change-password", `{"newPassword":"newpassword1"}`,
		"Authorization", "Bearer "+login.AccessToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Flag is now clear, a second forced change is rejected.
	resp = postJSON(t, fx.server.URL+"/auth/force-change-password", `{"newPassword":"anotherpass2"}`,
		"Authorization", "Bearer "+login.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokeSessionsEndpoint(t *testing.T) {
	fx := newAPIFixture(t, testUser(t, "u1", "a@example.com", "hunter2abc", nil))

	resp := postJSON(t, fx.server.URL+"/auth/login", `{"email":"a@example.com","password":"hunter2abc"}`)
	var login tokenPairResponse
	decodeBody(t, resp, &login)

	resp = postJSON(t, fx.server.URL+"/internal/users/u1/revoke-sessions", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int64
	decodeBody(t, resp, &body)
	assert.Equal(t, int64(1), body["revoked"])

	resp = postJSON(t, fx.server.URL+"/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, fx.server.URL+"/internal/users/missing/revoke-sessions", ``)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
