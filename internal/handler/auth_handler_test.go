package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ysaito/authman/internal/auth"
	"github.com/ysaito/authman/internal/model"
)

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signUpFn         func(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error)
	signInFn         func(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error)
	resolveSessionFn func(ctx context.Context, token string) (*model.User, *model.Session, error)
	updateUserFn     func(ctx context.Context, userID string, params auth.UpdateParams) (*model.User, error)
	signOutFn        func(ctx context.Context, token string) error
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, metadata)
	}
	return testUser(), nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password, userAgent, ip)
	}
	return testUser(), testSession(), nil
}

func (m *mockAuthService) ResolveSession(ctx context.Context, token string) (*model.User, *model.Session, error) {
	if m.resolveSessionFn != nil {
		return m.resolveSessionFn(ctx, token)
	}
	return testUser(), testSession(), nil
}

func (m *mockAuthService) UpdateUser(ctx context.Context, userID string, params auth.UpdateParams) (*model.User, error) {
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, userID, params)
	}
	return testUser(), nil
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

// mockResetService はResetServiceInterfaceのモック実装。
type mockResetService struct {
	requestFn func(ctx context.Context, email string) (string, error)
	confirmFn func(ctx context.Context, token, newPassword string) error
}

func (m *mockResetService) Request(ctx context.Context, email string) (string, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, email)
	}
	return "issued-token", nil
}

func (m *mockResetService) Confirm(ctx context.Context, token, newPassword string) error {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token, newPassword)
	}
	return nil
}

func testUser() *model.User {
	return &model.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$secret",
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func testSession() *model.Session {
	return &model.Session{
		Token:     "session-token-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
}

func newTestAuthHandler(svc AuthServiceInterface, reset ResetServiceInterface, production bool) *AuthHandler {
	return NewAuthHandler(svc, reset, nil, AuthHandlerConfig{Production: production})
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response should be JSON: %v (body: %s)", err, w.Body.String())
	}
	return body
}

func TestSignUpHandler(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockResetService{}, false)

	w := doJSON(t, h.SignUp, http.MethodPost, "/auth/signup",
		map[string]any{"email": "alice@example.com", "password": "password123"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body := decodeBody(t, w)
	if body["message"] == nil {
		t.Error("response should contain a message")
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("response should contain a user object, got %v", body["user"])
	}
	if user["email"] != "alice@example.com" {
		t.Errorf("user.email = %v, want alice@example.com", user["email"])
	}

	// ハッシュがレスポンスに漏れないこと
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("password hash must never be serialized")
	}
}

// 8文字未満のパスワードは委譲前に拒否され、ユーザーは作成されない
func TestSignUpHandler_ShortPassword(t *testing.T) {
	delegateCalled := false
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error) {
			delegateCalled = true
			return testUser(), nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignUp, http.MethodPost, "/auth/signup",
		map[string]any{"email": "alice@example.com", "password": "1234567"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if delegateCalled {
		t.Error("the service must not be called for a short password")
	}
	if decodeBody(t, w)["error"] == nil {
		t.Error("error body should contain an error key")
	}
}

func TestSignUpHandler_MissingFields(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockResetService{}, false)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"メールなし", map[string]any{"password": "password123"}},
		{"パスワードなし", map[string]any{"email": "alice@example.com"}},
		{"両方なし", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h.SignUp, http.MethodPost, "/auth/signup", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSignUpHandler_DuplicateEmail(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error) {
			return nil, model.NewDuplicateEmailError()
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignUp, http.MethodPost, "/auth/signup",
		map[string]any{"email": "alice@example.com", "password": "password123"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if errMsg := decodeBody(t, w)["error"]; errMsg != "このメールアドレスは既に登録されています。" {
		t.Errorf("error = %v, want the duplicate email message", errMsg)
	}
}

func TestSignInHandler(t *testing.T) {
	var gotUserAgent, gotIP string
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error) {
			gotUserAgent = userAgent
			gotIP = ip
			return testUser(), testSession(), nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignIn, http.MethodPost, "/auth/signin",
		map[string]any{"email": "alice@example.com", "password": "password123"},
		map[string]string{
			"User-Agent":      "test-agent",
			"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
		})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body := decodeBody(t, w)
	if _, ok := body["user"]; !ok {
		t.Error("response should contain a user")
	}
	session, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatal("response should contain a session")
	}
	if session["token"] != "session-token-1" {
		t.Errorf("session.token = %v, want session-token-1", session["token"])
	}

	if gotUserAgent != "test-agent" {
		t.Errorf("userAgent = %q, want %q", gotUserAgent, "test-agent")
	}
	// X-Forwarded-Forの先頭値がトリムされて渡されること
	if gotIP != "203.0.113.7" {
		t.Errorf("ip = %q, want %q", gotIP, "203.0.113.7")
	}
}

// 認証失敗はどの理由でも同一の401レスポンスになる
func TestSignInHandler_UniformUnauthorized(t *testing.T) {
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error) {
			return nil, nil, model.NewInvalidCredentialsError()
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignIn, http.MethodPost, "/auth/signin",
		map[string]any{"email": "alice@example.com", "password": "wrongpassword"}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if errMsg := decodeBody(t, w)["error"]; errMsg != "メールアドレスまたはパスワードが正しくありません。" {
		t.Errorf("error = %v, want the uniform credentials message", errMsg)
	}
}

func TestSignInHandler_MissingFields(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockResetService{}, false)

	w := doJSON(t, h.SignIn, http.MethodPost, "/auth/signin",
		map[string]any{"email": "alice@example.com"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// Bearerヘッダーの欠落・不正は委譲前に401で終端する
func TestGetSessionHandler_MissingOrMalformedBearer(t *testing.T) {
	delegateCalled := false
	svc := &mockAuthService{
		resolveSessionFn: func(ctx context.Context, token string) (*model.User, *model.Session, error) {
			delegateCalled = true
			return testUser(), testSession(), nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	tests := []struct {
		name   string
		header map[string]string
	}{
		{"ヘッダーなし", nil},
		{"スキーム違い", map[string]string{"Authorization": "Basic abc123"}},
		{"トークンなし", map[string]string{"Authorization": "Bearer "}},
		{"スキームのみ", map[string]string{"Authorization": "Bearer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h.GetSession, http.MethodGet, "/auth/session", nil, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}

	if delegateCalled {
		t.Error("the service must not be called without a well-formed Bearer header")
	}
}

func TestGetSessionHandler(t *testing.T) {
	svc := &mockAuthService{
		resolveSessionFn: func(ctx context.Context, token string) (*model.User, *model.Session, error) {
			if token != "session-token-1" {
				return nil, nil, model.NewInvalidSessionError()
			}
			return testUser(), testSession(), nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.GetSession, http.MethodGet, "/auth/session", nil,
		map[string]string{"Authorization": "Bearer session-token-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	user, _ := body["user"].(map[string]any)
	if user["id"] != "user-1" {
		t.Errorf("user.id = %v, want user-1", user["id"])
	}

	// 無効なトークンは401
	w = doJSON(t, h.GetSession, http.MethodGet, "/auth/session", nil,
		map[string]string{"Authorization": "Bearer expired-token"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if errMsg := decodeBody(t, w)["error"]; errMsg != "セッションが無効または期限切れです。" {
		t.Errorf("error = %v, want the uniform session message", errMsg)
	}
}

func TestGetUserHandler(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockResetService{}, false)

	w := doJSON(t, h.GetUser, http.MethodGet, "/auth/user", nil,
		map[string]string{"Authorization": "Bearer session-token-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if _, ok := body["user"]; !ok {
		t.Error("response should contain a user")
	}
	// GET /auth/user はセッションを含めない
	if _, ok := body["session"]; ok {
		t.Error("response should not contain a session")
	}
}

// 更新対象はセッションのユーザーIDであり、ボディからは決して取らない
func TestUpdateUserHandler_TargetsSessionUser(t *testing.T) {
	var gotUserID string
	var gotParams auth.UpdateParams
	svc := &mockAuthService{
		updateUserFn: func(ctx context.Context, userID string, params auth.UpdateParams) (*model.User, error) {
			gotUserID = userID
			gotParams = params
			return testUser(), nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.UpdateUser, http.MethodPatch, "/auth/user",
		map[string]any{"id": "attacker-chosen-id", "email": "new@example.com"},
		map[string]string{"Authorization": "Bearer session-token-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUserID != "user-1" {
		t.Errorf("target userID = %q, want the session's user-1", gotUserID)
	}
	if gotParams.Email == nil || *gotParams.Email != "new@example.com" {
		t.Error("email field should be passed to the service")
	}
	if gotParams.Password != nil {
		t.Error("absent fields should stay nil")
	}
}

func TestUpdateUserHandler_DelegateRejection(t *testing.T) {
	svc := &mockAuthService{
		updateUserFn: func(ctx context.Context, userID string, params auth.UpdateParams) (*model.User, error) {
			return nil, model.NewInvalidFieldError("メールアドレスを空にすることはできません。")
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.UpdateUser, http.MethodPatch, "/auth/user",
		map[string]any{"email": ""},
		map[string]string{"Authorization": "Bearer session-token-1"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSignOutHandler(t *testing.T) {
	var gotToken string
	svc := &mockAuthService{
		signOutFn: func(ctx context.Context, token string) error {
			gotToken = token
			return nil
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignOut, http.MethodPost, "/auth/signout", nil,
		map[string]string{"Authorization": "Bearer session-token-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotToken != "session-token-1" {
		t.Errorf("token = %q, want session-token-1", gotToken)
	}

	// ヘッダー欠落は401
	w = doJSON(t, h.SignOut, http.MethodPost, "/auth/signout", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without header = %d, want 401", w.Code)
	}
}

func TestRequestResetHandler_TokenEchoIsEnvironmentGated(t *testing.T) {
	reset := &mockResetService{
		requestFn: func(ctx context.Context, email string) (string, error) {
			return "issued-token", nil
		},
	}

	// 非本番: トークンをレスポンスに含める
	h := newTestAuthHandler(&mockAuthService{}, reset, false)
	w := doJSON(t, h.RequestReset, http.MethodPost, "/auth/reset-password",
		map[string]any{"email": "alice@example.com"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if decodeBody(t, w)["token"] != "issued-token" {
		t.Error("token should be echoed outside production")
	}

	// 本番: トークンは決して含めない
	h = newTestAuthHandler(&mockAuthService{}, reset, true)
	w = doJSON(t, h.RequestReset, http.MethodPost, "/auth/reset-password",
		map[string]any{"email": "alice@example.com"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := decodeBody(t, w)["token"]; ok {
		t.Error("token must not be echoed in production")
	}
}

// アカウント列挙対策: 未知のメールでも同一の成功レスポンスを返す
func TestRequestResetHandler_UnknownEmail(t *testing.T) {
	reset := &mockResetService{
		requestFn: func(ctx context.Context, email string) (string, error) {
			return "", nil // 未知のメール
		},
	}
	h := newTestAuthHandler(&mockAuthService{}, reset, false)

	w := doJSON(t, h.RequestReset, http.MethodPost, "/auth/reset-password",
		map[string]any{"email": "nobody@example.com"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["message"] == nil {
		t.Error("response should contain the generic message")
	}
	if _, ok := body["token"]; ok {
		t.Error("no token key should be present for an unknown email")
	}
}

func TestRequestResetHandler_MissingEmail(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{}, &mockResetService{}, false)

	w := doJSON(t, h.RequestReset, http.MethodPost, "/auth/reset-password", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConfirmResetHandler(t *testing.T) {
	var gotToken, gotPassword string
	reset := &mockResetService{
		confirmFn: func(ctx context.Context, token, newPassword string) error {
			gotToken = token
			gotPassword = newPassword
			return nil
		},
	}
	h := newTestAuthHandler(&mockAuthService{}, reset, false)

	w := doJSON(t, h.ConfirmReset, http.MethodPost, "/auth/reset-password/confirm",
		map[string]any{"token": "reset-token", "password": "newpassword456"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotToken != "reset-token" || gotPassword != "newpassword456" {
		t.Errorf("delegate got (%q, %q)", gotToken, gotPassword)
	}
}

func TestConfirmResetHandler_Validation(t *testing.T) {
	delegateCalled := false
	reset := &mockResetService{
		confirmFn: func(ctx context.Context, token, newPassword string) error {
			delegateCalled = true
			return nil
		},
	}
	h := newTestAuthHandler(&mockAuthService{}, reset, false)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"トークンなし", map[string]any{"password": "newpassword456"}},
		{"パスワードなし", map[string]any{"token": "reset-token"}},
		{"パスワードが短い", map[string]any{"token": "reset-token", "password": "1234567"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h.ConfirmReset, http.MethodPost, "/auth/reset-password/confirm", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	if delegateCalled {
		t.Error("the service must not be called for invalid input")
	}
}

func TestConfirmResetHandler_InvalidToken(t *testing.T) {
	reset := &mockResetService{
		confirmFn: func(ctx context.Context, token, newPassword string) error {
			return model.NewInvalidResetTokenError()
		},
	}
	h := newTestAuthHandler(&mockAuthService{}, reset, false)

	w := doJSON(t, h.ConfirmReset, http.MethodPost, "/auth/reset-password/confirm",
		map[string]any{"token": "consumed-token", "password": "newpassword456"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if errMsg := decodeBody(t, w)["error"]; errMsg != "トークンが無効または期限切れです。" {
		t.Errorf("error = %v, want the uniform token message", errMsg)
	}
}

func TestHandler_InternalError_Returns500WithGenericBody(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error) {
			return nil, context.DeadlineExceeded
		},
	}
	h := newTestAuthHandler(svc, &mockResetService{}, false)

	w := doJSON(t, h.SignUp, http.MethodPost, "/auth/signup",
		map[string]any{"email": "alice@example.com", "password": "password123"}, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// 内部詳細は漏らさない
	if strings.Contains(w.Body.String(), "deadline") {
		t.Error("internal error details must not leak into the response")
	}
}
