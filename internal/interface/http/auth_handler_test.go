package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexahq/cortexa-auth/config"
	"github.com/cortexahq/cortexa-auth/internal/application"
	"github.com/cortexahq/cortexa-auth/internal/domain/entity"
	repo "github.com/cortexahq/cortexa-auth/internal/domain/repository"
	"github.com/cortexahq/cortexa-auth/internal/interface/middleware"
	"github.com/cortexahq/cortexa-auth/pkg/helpers"
	"github.com/cortexahq/cortexa-auth/pkg/validation"
)

type memUserRepo struct {
	mu     sync.Mutex
	users  map[string]*entity.User
	seq    int
	getErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*entity.User{}}
}

func (m *memUserRepo) Create(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.users {
		if e.Email == u.Email {
			return repo.ErrDuplicateEmail
		}
	}
	m.seq++
	u.ID = fmt.Sprintf("u%d", m.seq)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memUserRepo) Update(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return repo.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserRepo) otpFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && u.OTP != nil {
			return *u.OTP
		}
	}
	return ""
}

func (m *memUserRepo) expireOTP(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	past := time.Now().Add(-time.Minute)
	for _, u := range m.users {
		if u.Email == email {
			u.OTPExpiry = &past
		}
	}
}

func (m *memUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type testEnv struct {
	router *gin.Engine
	repo   *memUserRepo
	jwt    *helpers.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validation.Init()

	r := newMemUserRepo()
	jwt := helpers.NewJWTManager("test-secret", time.Hour)
	cfg := &config.Config{AppName: "cortexa-auth", OTPTTL: 10 * time.Minute, MailSendEnabled: false}
	svc := application.NewService(r, jwt, nil, nil, nil, "", nil, cfg)
	h := NewAuthHandler(svc, nil, "localhost", false)

	engine := gin.New()
	api := engine.Group("/api")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/verify-otp", h.VerifyOTP)
	auth := api.Group("/")
	auth.Use(middleware.Auth(jwt))
	auth.GET("/auth/me", h.GetUserInfo)

	return &testEnv{router: engine, repo: r, jwt: jwt}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  int            `json:"status"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Error   any            `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func registerBody(email string) map[string]any {
	return map[string]any{"fullName": "Ana", "email": email, "password": "pw123"}
}

func TestRegister_Created(t *testing.T) {
	e := newTestEnv(t)

	w := e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))
	require.Equal(t, http.StatusCreated, w.Code)

	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Contains(t, env.Message, "verify your email")
	assert.NotEmpty(t, env.Data["token"])

	user, ok := env.Data["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ana@x.com", user["email"])
	assert.Equal(t, false, user["isEmailVerified"])

	// neither password hash nor OTP leaves the server
	assert.NotContains(t, w.Body.String(), "password")
	assert.NotContains(t, w.Body.String(), e.repo.otpFor("ana@x.com"))
}

func TestRegister_MissingFieldsRejectedBeforePersistence(t *testing.T) {
	e := newTestEnv(t)

	cases := []map[string]any{
		{"email": "ana@x.com", "password": "pw123"},
		{"fullName": "Ana", "password": "pw123"},
		{"fullName": "Ana", "email": "ana@x.com"},
		{},
	}
	for _, body := range cases {
		w := e.postJSON(t, "/api/auth/register", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Equal(t, 0, e.repo.count())
}

func TestRegister_UnusualEmailAccepted(t *testing.T) {
	// Only presence is required; a string that is not a mail address still
	// registers and can be looked up verbatim.
	e := newTestEnv(t)

	w := e.postJSON(t, "/api/auth/register", registerBody("not-an-address"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.postJSON(t, "/api/auth/login", map[string]any{"email": "not-an-address", "password": "pw123"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	e := newTestEnv(t)

	w := e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email already in use", decode(t, w).Message)
	assert.Equal(t, 1, e.repo.count())
}

func TestLogin_InvalidCredentialsIndistinguishable(t *testing.T) {
	e := newTestEnv(t)
	e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))

	wrongPw := e.postJSON(t, "/api/auth/login", map[string]any{"email": "ana@x.com", "password": "nope"})
	noUser := e.postJSON(t, "/api/auth/login", map[string]any{"email": "ghost@x.com", "password": "pw123"})

	require.Equal(t, http.StatusBadRequest, wrongPw.Code)
	require.Equal(t, http.StatusBadRequest, noUser.Code)

	a, b := decode(t, wrongPw), decode(t, noUser)
	assert.Equal(t, "Invalid credentials", a.Message)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, a.Error, b.Error)
}

func TestStoreOutageAnswersInternalError(t *testing.T) {
	// A failing store is an internal fault. It must answer 500 with a
	// generic message, never the 400/404 responses reserved for client
	// mistakes, and the raw error text must stay out of the body.
	e := newTestEnv(t)
	e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))

	e.repo.getErr = errors.New("connection refused: db down")

	login := e.postJSON(t, "/api/auth/login", map[string]any{"email": "ana@x.com", "password": "pw123"})
	assert.Equal(t, http.StatusInternalServerError, login.Code)
	assert.Equal(t, "Login failed", decode(t, login).Message)
	assert.NotContains(t, login.Body.String(), "db down")

	verify := e.postJSON(t, "/api/auth/verify-otp", map[string]any{"email": "ana@x.com", "otp": "123456"})
	assert.Equal(t, http.StatusInternalServerError, verify.Code)

	token, _, err := e.jwt.GenerateToken("u1")
	require.NoError(t, err)
	me := e.get(t, "/api/auth/me", token)
	assert.Equal(t, http.StatusInternalServerError, me.Code)
}

func TestLogin_MissingFields(t *testing.T) {
	e := newTestEnv(t)
	w := e.postJSON(t, "/api/auth/login", map[string]any{"email": "ana@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	e := newTestEnv(t)
	e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))

	wrong := "000000"
	if e.repo.otpFor("ana@x.com") == wrong {
		wrong = "000001"
	}
	w := e.postJSON(t, "/api/auth/verify-otp", map[string]any{"email": "ana@x.com", "otp": wrong})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid OTP", decode(t, w).Message)
}

func TestVerifyOTP_Expired(t *testing.T) {
	e := newTestEnv(t)
	e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))
	code := e.repo.otpFor("ana@x.com")
	e.repo.expireOTP("ana@x.com")

	w := e.postJSON(t, "/api/auth/verify-otp", map[string]any{"email": "ana@x.com", "otp": code})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "OTP expired", decode(t, w).Message)
}

func TestVerifyOTP_UnknownEmail(t *testing.T) {
	e := newTestEnv(t)
	w := e.postJSON(t, "/api/auth/verify-otp", map[string]any{"email": "ghost@x.com", "otp": "123456"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User not found", decode(t, w).Message)
}

func TestGetUserInfo_Unauthorized(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetUserInfo_UnknownUser(t *testing.T) {
	e := newTestEnv(t)
	token, _, err := e.jwt.GenerateToken("missing")
	require.NoError(t, err)

	w := e.get(t, "/api/auth/me", token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", decode(t, w).Message)
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	// Register
	w := e.postJSON(t, "/api/auth/register", registerBody("ana@x.com"))
	require.Equal(t, http.StatusCreated, w.Code)
	t1, _ := decode(t, w).Data["token"].(string)
	require.NotEmpty(t, t1)

	// Verify with the stored code
	code := e.repo.otpFor("ana@x.com")
	require.Len(t, code, 6)
	w = e.postJSON(t, "/api/auth/verify-otp", map[string]any{"email": "ana@x.com", "otp": code})
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Equal(t, "Email verified successfully", env.Message)
	t2, _ := env.Data["token"].(string)
	require.NotEmpty(t, t2)
	user := env.Data["user"].(map[string]any)
	assert.Equal(t, true, user["isEmailVerified"])

	// Login afterwards
	w = e.postJSON(t, "/api/auth/login", map[string]any{"email": "ana@x.com", "password": "pw123"})
	require.Equal(t, http.StatusOK, w.Code)
	env = decode(t, w)
	t3, _ := env.Data["token"].(string)
	require.NotEmpty(t, t3)

	// The authenticated info endpoint works with the latest token and
	// never exposes a password field.
	w = e.get(t, "/api/auth/me", t3)
	require.Equal(t, http.StatusOK, w.Code)
	body := strings.ToLower(w.Body.String())
	assert.NotContains(t, body, "password")
	info := decode(t, w)
	assert.Equal(t, true, info.Data["isEmailVerified"])
}
