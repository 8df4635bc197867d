package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/accounts-api/internal/httputil"
)

type stubLimiter struct {
	mu       sync.Mutex
	exceeded bool
	err      error
	counted  []string
}

func (l *stubLimiter) Allow(_ context.Context, ip, purpose string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counted = append(l.counted, purpose+":"+ip)
	if l.err != nil {
		return false, l.err
	}
	return !l.exceeded, nil
}

type handlerEnv struct {
	*testEnv
	limiter *stubLimiter
	router  http.Handler
}

func newHandlerEnv(t *testing.T, opts ...envOption) *handlerEnv {
	t.Helper()

	env := newTestEnv(t, opts...)
	limiter := &stubLimiter{}
	h := NewHandler(env.service, limiter, env.metrics)
	mw := NewMiddleware(env.issuer)

	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/token/refresh", h.Refresh)
	r.Post("/token/blacklist", h.Blacklist)
	r.Post("/token/verify", h.Verify)
	r.With(mw.RequireAuth).Get("/me", h.Me)

	return &handlerEnv{testEnv: env, limiter: limiter, router: r}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.9:52100"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func registerBody() map[string]any {
	return map[string]any{
		"email":            "ada@example.com",
		"username":         "ada",
		"first_name":       "Ada",
		"last_name":        "Lovelace",
		"password":         "Tr0ub4dor&3x",
		"password_confirm": "Tr0ub4dor&3x",
		"bio":              "Analyst",
	}
}

func loginBody(email, password string) map[string]any {
	return map[string]any{"email": email, "password": password}
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) AuthResponse {
	t.Helper()
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestHandler_Register(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/register", registerBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.ElementsMatch(t, []string{"user", "tokens", "message"}, keys(raw))

	resp := decodeAuth(t, rec)
	assert.Equal(t, "User registered successfully", resp.Message)
	assert.Equal(t, "ada", resp.User.Username)
	assert.Equal(t, "Ada Lovelace", resp.User.FullName)
	assert.Equal(t, "Analyst", resp.User.Bio)
	assert.Nil(t, resp.User.Avatar)
	assert.NotEmpty(t, resp.Tokens.Access)
	assert.NotEmpty(t, resp.Tokens.Refresh)
	assert.NotContains(t, rec.Body.String(), "password")

	assert.Equal(t, []string{"register:203.0.113.9"}, env.limiter.counted)
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestHandler_RegisterValidationErrors(t *testing.T) {
	env := newHandlerEnv(t)

	body := registerBody()
	body["password"] = "Abc12345"
	body["password_confirm"] = "Abc12399"

	rec := env.do(t, http.MethodPost, "/register", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"password_confirm":[{"message":"Passwords do not match","code":"password_mismatch"}]}`, rec.Body.String())
	assert.Zero(t, env.users.count())
}

func TestHandler_RegisterDuplicateEmail(t *testing.T) {
	env := newHandlerEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/register", registerBody(), nil).Code)

	body := registerBody()
	body["username"] = "ada2"
	rec := env.do(t, http.MethodPost, "/register", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"email":[{"message":"user with this email already exists.","code":"unique"}]}`, rec.Body.String())
}

func TestHandler_RegisterMalformedBody(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/register", "{not json", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.JSONEq(t, `{"detail":[{"message":"Malformed request body.","code":"invalid_request_body"}]}`, rec.Body.String())
}

func TestHandler_MalformedBodiesShareShape(t *testing.T) {
	env := newHandlerEnv(t)

	for _, path := range []string{"/login", "/token/refresh", "/token/blacklist", "/token/verify"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, path, "[", nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			v := map[string][]map[string]string{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
			require.Len(t, v[FieldDetail], 1)
			assert.Equal(t, httputil.CodeInvalidRequestBody, v[FieldDetail][0]["code"])
		})
	}
}

func TestHandler_RegisterMultipartAvatar(t *testing.T) {
	env := newHandlerEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range registerBody() {
		require.NoError(t, mw.WriteField(k, v.(string)))
	}
	part, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeAuth(t, rec)
	require.NotNil(t, resp.User.Avatar)
	assert.True(t, strings.HasPrefix(*resp.User.Avatar, "https://cdn.example.com/avatars/"+resp.User.ID.String()+"/"))
	assert.Len(t, env.avatars.keys(), 1)
}

func TestHandler_RegisterThrottled(t *testing.T) {
	env := newHandlerEnv(t)
	env.limiter.exceeded = true

	rec := env.do(t, http.MethodPost, "/register", registerBody(), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Zero(t, env.users.count())
	assert.Equal(t, []string{"registration:throttled"}, env.metrics.all())
}

func TestHandler_Login(t *testing.T) {
	env := newHandlerEnv(t)
	env.registerUser(t)

	rec := env.do(t, http.MethodPost, "/login", loginBody("ada@example.com", "Tr0ub4dor&3x"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeAuth(t, rec)
	assert.Equal(t, "Login successful", resp.Message)
	require.NotNil(t, resp.User.LastLogin)
	assert.Equal(t, []string{"login:203.0.113.9"}, env.limiter.counted)
}

func TestHandler_LoginFailuresHaveIdenticalBodies(t *testing.T) {
	env := newHandlerEnv(t)
	env.registerUser(t)

	wrongPassword := env.do(t, http.MethodPost, "/login", loginBody("ada@example.com", "not-the-password"), nil)
	unknownEmail := env.do(t, http.MethodPost, "/login", loginBody("ghost@example.com", "not-the-password"), nil)

	assert.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.JSONEq(t, `{"user":[{"message":"Invalid credentials.","code":"invalid_credentials"}]}`, wrongPassword.Body.String())
}

func TestHandler_LoginInactive(t *testing.T) {
	env := newHandlerEnv(t)
	u := env.registerUser(t).User
	env.users.setActive(u.ID, false)

	rec := env.do(t, http.MethodPost, "/login", loginBody("ada@example.com", "Tr0ub4dor&3x"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":[{"message":"User account is disabled.","code":"inactive_account"}]}`, rec.Body.String())
}

func TestHandler_LoginThrottledBeforeCredentialCheck(t *testing.T) {
	env := newHandlerEnv(t)
	env.registerUser(t)
	env.limiter.exceeded = true

	rec := env.do(t, http.MethodPost, "/login", loginBody("ada@example.com", "Tr0ub4dor&3x"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, env.metrics.all(), "login:throttled")
	assert.NotContains(t, env.metrics.all(), "login:success")

	stored, err := env.users.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.LastLogin)
}

func TestHandler_LoginLimiterFailsOpen(t *testing.T) {
	env := newHandlerEnv(t)
	env.registerUser(t)
	env.limiter.err = errors.New("redis down")

	rec := env.do(t, http.MethodPost, "/login", loginBody("ada@example.com", "Tr0ub4dor&3x"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_RefreshRotation(t *testing.T) {
	env := newHandlerEnv(t)
	pair := env.registerUser(t).Tokens

	rec := env.do(t, http.MethodPost, "/token/refresh", RefreshRequest{Refresh: pair.Refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEmpty(t, rotated.Access)
	assert.NotEqual(t, pair.Refresh, rotated.Refresh)

	reuse := env.do(t, http.MethodPost, "/token/refresh", RefreshRequest{Refresh: pair.Refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, reuse.Code)

	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(reuse.Body.Bytes(), &resp))
	assert.Equal(t, httputil.CodeTokenNotValid, resp.Code)
}

func TestHandler_RefreshMissingToken(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/token/refresh", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"refresh":[{"message":"This field is required.","code":"required"}]}`, rec.Body.String())
}

func TestHandler_RefreshWithAccessToken(t *testing.T) {
	env := newHandlerEnv(t)
	pair := env.registerUser(t).Tokens

	rec := env.do(t, http.MethodPost, "/token/refresh", RefreshRequest{Refresh: pair.Access}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_BlacklistAndVerify(t *testing.T) {
	env := newHandlerEnv(t)
	pair := env.registerUser(t).Tokens

	rec := env.do(t, http.MethodPost, "/token/verify", VerifyRequest{Token: pair.Refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/token/blacklist", RefreshRequest{Refresh: pair.Refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/token/verify", VerifyRequest{Token: pair.Refresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/token/blacklist", RefreshRequest{Refresh: pair.Refresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/token/refresh", RefreshRequest{Refresh: pair.Refresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/token/verify", VerifyRequest{Token: pair.Access}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_VerifyGarbage(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/token/verify", VerifyRequest{Token: "garbage"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Me(t *testing.T) {
	env := newHandlerEnv(t)
	result := env.registerUser(t)

	rec := env.do(t, http.MethodGet, "/me", nil, bearer(result.Tokens.Access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, result.User.ID, resp.ID)
	assert.Equal(t, "ada@example.com", resp.Email)
}

func TestHandler_MeUnauthorized(t *testing.T) {
	env := newHandlerEnv(t)
	result := env.registerUser(t)

	tests := []struct {
		name   string
		header http.Header
		code   string
	}{
		{"no header", nil, httputil.CodeMissingAuth},
		{"wrong scheme", http.Header{"Authorization": []string{"Token " + result.Tokens.Access}}, httputil.CodeInvalidAuthHeader},
		{"refresh token", bearer(result.Tokens.Refresh), httputil.CodeTokenNotValid},
		{"garbage", bearer("garbage"), httputil.CodeTokenNotValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/me", nil, tt.header)
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var resp httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestHandler_MeDeletedUser(t *testing.T) {
	env := newHandlerEnv(t)
	result := env.registerUser(t)
	env.users.remove(result.User.ID)

	rec := env.do(t, http.MethodGet, "/me", nil, bearer(result.Tokens.Access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), httputil.CodeUserNotFound)
}

func TestHandler_MeInactiveUser(t *testing.T) {
	env := newHandlerEnv(t)
	result := env.registerUser(t)
	env.users.setActive(result.User.ID, false)

	rec := env.do(t, http.MethodGet, "/me", nil, bearer(result.Tokens.Access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, httputil.CodeUserInactive, resp.Code)
	assert.NotContains(t, rec.Body.String(), "ada@example.com")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	assert.Equal(t, "198.51.100.4", getClientIP(req))

	req.RemoteAddr = "198.51.100.4"
	assert.Equal(t, "198.51.100.4", getClientIP(req))
}
