package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ysaito/authman/internal/auth"
	"github.com/ysaito/authman/internal/metrics"
	"github.com/ysaito/authman/internal/middleware"
	"github.com/ysaito/authman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error)
	SignIn(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error)
	ResolveSession(ctx context.Context, token string) (*model.User, *model.Session, error)
	UpdateUser(ctx context.Context, userID string, params auth.UpdateParams) (*model.User, error)
	SignOut(ctx context.Context, token string) error
}

// ResetServiceInterface はパスワードリセットハンドラーが必要とするサービスインターフェース。
type ResetServiceInterface interface {
	Request(ctx context.Context, email string) (string, error)
	Confirm(ctx context.Context, token, newPassword string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// Productionがtrueの場合、リセットトークンをレスポンスに含めない。
	Production bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service      AuthServiceInterface
	resetService ResetServiceInterface
	collector    metrics.MetricsCollector
	config       AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。collectorはnil可。
func NewAuthHandler(
	service AuthServiceInterface,
	resetService ResetServiceInterface,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:      service,
		resetService: resetService,
		collector:    collector,
		config:       config,
	}
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Metadata map[string]any `json:"metadata"`
}

// SignUp は新規ユーザーを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}

	// 1. 委譲前のバリデーション
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "メールアドレスとパスワードは必須です。")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "パスワードは8文字以上で指定してください。")
		return
	}

	// 2. 登録処理
	user, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.Metadata)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.RecordSignUp()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    newUserResponse(user),
		"message": "登録が完了しました。",
	})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn は資格情報を検証しセッションを発行する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "メールアドレスとパスワードは必須です。")
		return
	}

	// クライアントコンテキストはベストエフォートで取得する
	userAgent := r.Header.Get("User-Agent")
	ip := middleware.ClientKey(r)

	user, session, err := h.service.SignIn(r.Context(), req.Email, req.Password, userAgent, ip)
	if err != nil {
		if h.collector != nil {
			h.collector.RecordSignInFailure()
		}
		handleServiceError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.RecordSignInSuccess()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    newUserResponse(user),
		"session": newSessionResponse(session),
	})
}

// GetSession はBearerトークンのセッションとユーザーを返す。
// GET /auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "認証トークンが必要です。")
		return
	}

	user, session, err := h.service.ResolveSession(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    newUserResponse(user),
		"session": newSessionResponse(session),
	})
}

// GetUser はBearerトークンのユーザーを返す。
// GET /auth/user
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "認証トークンが必要です。")
		return
	}

	user, _, err := h.service.ResolveSession(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": newUserResponse(user),
	})
}

type updateUserRequest struct {
	Email    *string        `json:"email"`
	Password *string        `json:"password"`
	Metadata map[string]any `json:"metadata"`
	IsActive *bool          `json:"is_active"`
}

// UpdateUser はセッションのユーザーを部分更新する。
// 更新対象はセッションから特定し、ボディのIDは決して信用しない。
// PATCH /auth/user
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "認証トークンが必要です。")
		return
	}

	// 1. セッションの解決
	_, session, err := h.service.ResolveSession(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 2. 更新フィールドの取得
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}

	// 3. 更新処理
	user, err := h.service.UpdateUser(r.Context(), session.UserID, auth.UpdateParams{
		Email:    req.Email,
		Password: req.Password,
		Metadata: req.Metadata,
		IsActive: req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": newUserResponse(user),
	})
}

// SignOut は提示されたトークンのセッションを破棄する。
// ヘッダーが整形されていれば、トークンが既に無効でも200を返す。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "認証トークンが必要です。")
		return
	}

	if err := h.service.SignOut(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "サインアウトしました。",
	})
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

// RequestReset はパスワードリセットの要求フェーズ。
// アカウントの存在を漏らさないため、メールの有無によらず同一の成功応答を返す。
// 非本番環境に限り、テスト用に発行トークンをレスポンスへ含める。
// POST /auth/reset-password
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "メールアドレスは必須です。")
		return
	}

	token, err := h.resetService.Request(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	body := map[string]string{
		"message": "登録されているメールアドレスの場合、リセット手順を送信しました。",
	}
	if !h.config.Production && token != "" {
		body["token"] = token
	}

	writeJSON(w, http.StatusOK, body)
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ConfirmReset はパスワードリセットの確定フェーズ。
// POST /auth/reset-password/confirm
func (h *AuthHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}
	if req.Token == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "トークンと新しいパスワードは必須です。")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "パスワードは8文字以上で指定してください。")
		return
	}

	if err := h.resetService.Confirm(r.Context(), req.Token, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.RecordPasswordReset()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "パスワードを変更しました。",
	})
}
