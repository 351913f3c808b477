package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/export"
	"github.com/tavernchat/users-api/internal/invites"
	"github.com/tavernchat/users-api/internal/middleware"
	"github.com/tavernchat/users-api/internal/models"
	"github.com/tavernchat/users-api/internal/monitor"
	"github.com/tavernchat/users-api/internal/routes"
	"github.com/tavernchat/users-api/internal/security"
	"github.com/tavernchat/users-api/internal/session"
	"github.com/tavernchat/users-api/internal/store"
)

type fakeUserStore struct {
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) Get(_ context.Context, handle string) (*models.User, error) {
	user, ok := f.users[handle]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUserStore) Create(_ context.Context, user *models.User) error {
	if _, ok := f.users[user.Handle]; ok {
		return store.ErrAlreadyExists
	}
	copied := *user
	f.users[user.Handle] = &copied
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, handle, password, salt string) error {
	user, ok := f.users[handle]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	user.Salt = salt
	return nil
}

func (f *fakeUserStore) List(_ context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, *user)
	}
	return users, nil
}

type fakeLimiter struct {
	name   string
	limit  int
	counts map[string]int
	resets int
}

func newFakeLimiter(name string, limit int) *fakeLimiter {
	return &fakeLimiter{name: name, limit: limit, counts: make(map[string]int)}
}

func (f *fakeLimiter) Name() string { return f.name }

func (f *fakeLimiter) Consume(_ context.Context, key string) error {
	f.counts[key]++
	if f.counts[key] > f.limit {
		return store.ErrRateLimited
	}
	return nil
}

func (f *fakeLimiter) Reset(_ context.Context, key string) error {
	f.resets++
	delete(f.counts, key)
	return nil
}

type fakeCodeCache struct {
	codes map[string]string
}

func newFakeCodeCache() *fakeCodeCache {
	return &fakeCodeCache{codes: make(map[string]string)}
}

func (f *fakeCodeCache) Set(_ context.Context, handle, code string) error {
	f.codes[handle] = code
	return nil
}

func (f *fakeCodeCache) Get(_ context.Context, handle string) (string, error) {
	code, ok := f.codes[handle]
	if !ok {
		return "", store.ErrNotFound
	}
	return code, nil
}

func (f *fakeCodeCache) Remove(_ context.Context, handle string) error {
	delete(f.codes, handle)
	return nil
}

type fakeSessionStore struct {
	seq      int
	sessions map[string]string
	touched  []string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]string)}
}

func (f *fakeSessionStore) Create(_ context.Context, handle string) (string, error) {
	f.seq++
	token := fmt.Sprintf("token-%d", f.seq)
	f.sessions[token] = handle
	return token, nil
}

func (f *fakeSessionStore) Get(_ context.Context, token string) (*session.Session, error) {
	handle, ok := f.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session.Session{Token: token, Handle: handle}, nil
}

func (f *fakeSessionStore) Touch(_ context.Context, token string) error {
	f.touched = append(f.touched, token)
	return nil
}

func (f *fakeSessionStore) Clear(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

type fakeInvites struct {
	required bool
	codes    map[string]bool // code -> used
	consumed []string
}

func newFakeInvites(required bool) *fakeInvites {
	return &fakeInvites{required: required, codes: make(map[string]bool)}
}

func (f *fakeInvites) Validate(_ context.Context, code string) error {
	if !f.required {
		return nil
	}
	if code == "" {
		return invites.ErrInvalid
	}
	used, ok := f.codes[code]
	if !ok || used {
		return invites.ErrInvalid
	}
	return nil
}

func (f *fakeInvites) Consume(_ context.Context, code, handle string) error {
	f.codes[code] = true
	f.consumed = append(f.consumed, code+":"+handle)
	return nil
}

type fakeContent struct {
	provisioned []string
}

func (f *fakeContent) Provision(handle string) error {
	f.provisioned = append(f.provisioned, handle)
	return nil
}

func (f *fakeContent) AvatarFor(string) string {
	return "img/default-avatar.png"
}

type fakeActivity struct {
	logins  []string
	logouts []string
	beats   []string
}

func (f *fakeActivity) RecordLogin(handle, _ string)    { f.logins = append(f.logins, handle) }
func (f *fakeActivity) RecordLogout(handle string)      { f.logouts = append(f.logouts, handle) }
func (f *fakeActivity) RecordActivity(handle, _ string) { f.beats = append(f.beats, handle) }

type testEnv struct {
	app      *fiber.App
	cfg      *config.Config
	users    *fakeUserStore
	sessions *fakeSessionStore
	codes    *fakeCodeCache
	login    *fakeLimiter
	recover  *fakeLimiter
	register *fakeLimiter
	invites  *fakeInvites
	content  *fakeContent
	activity *fakeActivity
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{
		SessionTTL:        time.Hour,
		SessionCookie:     "tavern_session",
		RecoveryCodeTTL:   5 * time.Minute,
		MinPasswordLength: 6,
	}
	cfg.Observability.MetricsPath = "/metrics"
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		cfg:      cfg,
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		codes:    newFakeCodeCache(),
		login:    newFakeLimiter("login", 5),
		recover:  newFakeLimiter("recover", 5),
		register: newFakeLimiter("register", 3),
		invites:  newFakeInvites(cfg.Auth.InvitationRequired),
		content:  &fakeContent{},
		activity: &fakeActivity{},
	}

	usersHandler := routes.NewUsersHandler(&cfg.Auth, routes.UsersHandlerDeps{
		Users:           env.users,
		Sessions:        env.sessions,
		Codes:           env.codes,
		LoginLimiter:    env.login,
		RecoverLimiter:  env.recover,
		RegisterLimiter: env.register,
		Invites:         env.invites,
		Content:         env.content,
		Activity:        env.activity,
	}, logger)

	requestMonitor := monitor.NewRequestMonitor(100)
	exporter := export.NewExporter(&cfg.Export, t.TempDir(), nil, logger)

	env.app = fiber.New()
	routes.Setup(env.app, cfg, logger, routes.Dependencies{
		Users:          usersHandler,
		Monitor:        routes.NewMonitorHandler(requestMonitor, logger),
		Export:         routes.NewExportHandler(exporter, logger),
		RequestMonitor: requestMonitor,
		Session:        middleware.NewSessionMiddleware(&cfg.Auth, env.sessions, logger),
	})

	return env
}

func (e *testEnv) seedUser(t *testing.T, handle, name, password string, enabled bool) {
	t.Helper()

	user := &models.User{
		Handle:  handle,
		Name:    name,
		Enabled: enabled,
		Created: time.Now().UnixMilli(),
	}
	if password != "" {
		salt, err := security.NewSalt()
		require.NoError(t, err)
		user.Salt = salt
		user.Password = security.HashPassword(password, salt)
	}
	e.users.users[handle] = user
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: e.cfg.Auth.SessionCookie, Value: cookie})
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	require.NoError(t, resp.Body.Close())
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var envelope errorEnvelope
	decodeJSON(t, resp, &envelope)
	assert.Equal(t, code, envelope.Error.Code)
}

func sessionCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "hunter22"}, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "alice", body["handle"])

	cookie := sessionCookie(resp, "tavern_session")
	require.NotNil(t, cookie, "login must set the session cookie")
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	assert.Equal(t, "alice", env.sessions.sessions[cookie.Value])
	assert.Equal(t, []string{"alice"}, env.activity.logins)
	assert.Equal(t, 1, env.login.resets, "successful login must reset the limiter")
}

func TestLoginNormalizesHandle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "Alice", "password": "hunter22"}, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginPasswordlessAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "guest", "Guest", "", true)

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "guest", "password": "anything"}, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginIncorrectPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "wrong"}, "")

	requireErrorCode(t, resp, http.StatusForbidden, "INCORRECT_CREDENTIALS")
	assert.Zero(t, env.login.resets)
}

func TestLoginUnknownHandleSameResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	unknown := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "nobody", "password": "wrong"}, "")
	wrongPassword := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "wrong"}, "")

	// a guesser cannot distinguish a missing user from a wrong password
	requireErrorCode(t, unknown, http.StatusForbidden, "INCORRECT_CREDENTIALS")
	requireErrorCode(t, wrongPassword, http.StatusForbidden, "INCORRECT_CREDENTIALS")
}

func TestLoginDisabledUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", false)

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "hunter22"}, "")

	requireErrorCode(t, resp, http.StatusForbidden, "USER_DISABLED")
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/login", map[string]string{"password": "x"}, "")

	requireErrorCode(t, resp, http.StatusBadRequest, "MISSING_FIELDS")
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	for i := 0; i < 5; i++ {
		resp := env.do(t, http.MethodPost, "/api/users/login",
			map[string]string{"handle": "alice", "password": "wrong"}, "")
		requireErrorCode(t, resp, http.StatusForbidden, "INCORRECT_CREDENTIALS")
	}

	resp := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "hunter22"}, "")
	requireErrorCode(t, resp, http.StatusTooManyRequests, "RATE_LIMITED")
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	login := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": "hunter22"}, "")
	require.Equal(t, http.StatusOK, login.StatusCode)
	token := sessionCookie(login, "tavern_session").Value

	resp := env.do(t, http.MethodPost, "/api/users/logout", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := env.sessions.sessions[token]
	assert.False(t, ok, "session must be removed")
	assert.Equal(t, []string{"alice"}, env.activity.logouts)

	cookie := sessionCookie(resp, "tavern_session")
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/logout", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	token, err := env.sessions.Create(context.Background(), "alice")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/users/heartbeat", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.NotZero(t, body["timestamp"])

	assert.Equal(t, []string{token}, env.sessions.touched)
	assert.Equal(t, []string{"alice"}, env.activity.beats)
}

func TestHeartbeatUnauthenticated(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/heartbeat", nil, "")
	requireErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHENTICATED")

	stale := env.do(t, http.MethodPost, "/api/users/heartbeat", nil, "token-gone")
	requireErrorCode(t, stale, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	token, err := env.sessions.Create(context.Background(), "alice")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/api/users/me", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me models.MeResponse
	decodeJSON(t, resp, &me)
	assert.Equal(t, "alice", me.Handle)
	assert.Equal(t, "Alice", me.Name)
	assert.True(t, me.Enabled)
	assert.False(t, me.Admin)
}

func TestMeUnauthenticated(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/users/me", nil, "")
	requireErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "bob", "Bob", "", true)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	env.seedUser(t, "mallory", "Mallory", "x", false)
	env.users.users["alice"].Created = 100
	env.users.users["bob"].Created = 200

	resp := env.do(t, http.MethodPost, "/api/users/list", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []models.UserViewModel
	decodeJSON(t, resp, &users)
	require.Len(t, users, 2, "disabled users are omitted")
	assert.Equal(t, "alice", users[0].Handle)
	assert.Equal(t, "bob", users[1].Handle)
	assert.True(t, users[0].Password)
	assert.False(t, users[1].Password)
	assert.Equal(t, "img/default-avatar.png", users[0].Avatar)
}

func TestListUsersDiscreetMode(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.DiscreetLogin = true
	})
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/list", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "Alice123",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
	}, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "alice123", body["handle"], "handle is normalized to lowercase")

	created, ok := env.users.users["alice123"]
	require.True(t, ok)
	assert.True(t, created.Enabled)
	assert.False(t, created.Admin)
	assert.NotEmpty(t, created.Password)
	assert.NotEmpty(t, created.Salt)
	assert.Equal(t, security.HashPassword("hunter22", created.Salt), created.Password)

	assert.Equal(t, []string{"alice123"}, env.content.provisioned)
	assert.Equal(t, 1, env.register.resets)
}

func TestRegisterPasswordMismatch(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "different",
	}, "")

	requireErrorCode(t, resp, http.StatusBadRequest, "PASSWORD_MISMATCH")
}

func TestRegisterShortPassword(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "abc",
		"confirmPassword": "abc",
	}, "")

	requireErrorCode(t, resp, http.StatusBadRequest, "PASSWORD_TOO_WEAK")
}

func TestRegisterShortPasswordMessageUsesConfiguredMinimum(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.MinPasswordLength = 10
	})

	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
	}, "")

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope errorEnvelope
	decodeJSON(t, resp, &envelope)
	assert.Equal(t, "PASSWORD_TOO_WEAK", envelope.Error.Code)
	assert.Contains(t, envelope.Error.Message, "10")
}

func TestRegisterHandleTakenCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "Alice",
		"name":            "Another Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
	}, "")

	requireErrorCode(t, resp, http.StatusConflict, "HANDLE_TAKEN")
}

func TestRegisterInvalidHandle(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, raw := range []string{"foo bar", "!!!", "bad_handle"} {
		resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
			"handle":          raw,
			"name":            "Someone",
			"password":        "hunter22",
			"confirmPassword": "hunter22",
		}, "")
		requireErrorCode(t, resp, http.StatusBadRequest, "INVALID_HANDLE")
	}
}

func TestRegisterTrivialHandle(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, raw := range []string{"admin", "123456", "aaa"} {
		resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
			"handle":          raw,
			"name":            "Someone",
			"password":        "hunter22",
			"confirmPassword": "hunter22",
		}, "")
		requireErrorCode(t, resp, http.StatusBadRequest, "INVALID_HANDLE")
	}
}

func TestRegisterIgnoresInvitationWhenNotRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	// with enforcement off, whatever the user typed into the invitation
	// field must not block registration
	resp := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
		"invitationCode":  "bogus",
	}, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := env.users.users["alice"]
	assert.True(t, ok)
}

func TestRegisterInvitationRequired(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.InvitationRequired = true
	})
	env.invites.codes["welcome"] = false

	missing := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
	}, "")
	requireErrorCode(t, missing, http.StatusBadRequest, "INVALID_INVITATION")

	wrong := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
		"invitationCode":  "bogus",
	}, "")
	requireErrorCode(t, wrong, http.StatusBadRequest, "INVALID_INVITATION")

	valid := env.do(t, http.MethodPost, "/api/users/register", map[string]string{
		"handle":          "alice",
		"name":            "Alice",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
		"invitationCode":  "welcome",
	}, "")
	require.Equal(t, http.StatusOK, valid.StatusCode)
	assert.Equal(t, []string{"welcome:alice"}, env.invites.consumed)
	assert.True(t, env.invites.codes["welcome"], "invitation is single-use")
}

func TestRecoverStep1IssuesCode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)

	resp := env.do(t, http.MethodPost, "/api/users/recover-step1",
		map[string]string{"handle": "alice"}, "")

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	code, ok := env.codes.codes["alice"]
	require.True(t, ok, "a recovery code must be cached")
	assert.Len(t, code, 4)
}

func TestRecoverStep1UnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/recover-step1",
		map[string]string{"handle": "nobody"}, "")

	requireErrorCode(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestRecoverStep1DisabledUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", false)

	resp := env.do(t, http.MethodPost, "/api/users/recover-step1",
		map[string]string{"handle": "alice"}, "")

	requireErrorCode(t, resp, http.StatusForbidden, "USER_DISABLED")
}

func TestRecoverStep2Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	env.codes.codes["alice"] = "1234"

	resp := env.do(t, http.MethodPost, "/api/users/recover-step2", map[string]string{
		"handle":      "alice",
		"code":        "1234",
		"newPassword": "newsecret",
	}, "")

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user := env.users.users["alice"]
	assert.Equal(t, security.HashPassword("newsecret", user.Salt), user.Password)

	_, ok := env.codes.codes["alice"]
	assert.False(t, ok, "recovery code is single-use")
	assert.Equal(t, 1, env.recover.resets)
}

func TestRecoverStep2ClearsPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	env.codes.codes["alice"] = "1234"

	resp := env.do(t, http.MethodPost, "/api/users/recover-step2", map[string]string{
		"handle": "alice",
		"code":   "1234",
	}, "")

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user := env.users.users["alice"]
	assert.Empty(t, user.Password, "account becomes passwordless")
	assert.Empty(t, user.Salt)

	// passwordless login works afterwards
	login := env.do(t, http.MethodPost, "/api/users/login",
		map[string]string{"handle": "alice", "password": ""}, "")
	assert.Equal(t, http.StatusOK, login.StatusCode)
}

func TestRecoverStep2WrongCodeConsumesBudget(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	env.codes.codes["alice"] = "1234"

	resp := env.do(t, http.MethodPost, "/api/users/recover-step2", map[string]string{
		"handle":      "alice",
		"code":        "9999",
		"newPassword": "newsecret",
	}, "")

	requireErrorCode(t, resp, http.StatusForbidden, "INCORRECT_CODE")

	total := 0
	for _, count := range env.recover.counts {
		total += count
	}
	assert.Equal(t, 1, total, "only the mismatch spends a point")

	// the original password still works
	user := env.users.users["alice"]
	assert.Equal(t, security.HashPassword("hunter22", user.Salt), user.Password)
}

func TestRecoverStep2ReplayRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice", "Alice", "hunter22", true)
	env.codes.codes["alice"] = "1234"

	first := env.do(t, http.MethodPost, "/api/users/recover-step2", map[string]string{
		"handle":      "alice",
		"code":        "1234",
		"newPassword": "newsecret",
	}, "")
	require.Equal(t, http.StatusNoContent, first.StatusCode)

	replay := env.do(t, http.MethodPost, "/api/users/recover-step2", map[string]string{
		"handle":      "alice",
		"code":        "1234",
		"newPassword": "attacker",
	}, "")
	requireErrorCode(t, replay, http.StatusForbidden, "INCORRECT_CODE")
}

func TestRecoverStep2MissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/users/recover-step2",
		map[string]string{"handle": "alice"}, "")

	requireErrorCode(t, resp, http.StatusBadRequest, "MISSING_FIELDS")
}
