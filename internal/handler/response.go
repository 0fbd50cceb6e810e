// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ysaito/authman/internal/model"
)

// userResponse はAPIレスポンス用のユーザー表現。
// パスワードハッシュは決して含めない。
type userResponse struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	IsActive  bool           `json:"is_active"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		IsActive:  u.IsActive,
		Metadata:  u.Metadata,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// sessionResponse はAPIレスポンス用のセッション表現。
type sessionResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func newSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		UserID:    s.UserID,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
}

// licenseResponse はAPIレスポンス用のライセンス表現。
type licenseResponse struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func newLicenseResponse(l *model.License) licenseResponse {
	return licenseResponse{
		ID:        l.ID,
		UserID:    l.UserID,
		Plan:      l.Plan,
		Status:    l.Status,
		ExpiresAt: l.ExpiresAt,
		CreatedAt: l.CreatedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError は`{"error": <message>}`形式のエラーレスポンスを書き込む。
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスにマッピングする。
// APIErrorは認証系なら401、それ以外は400として本文にメッセージを載せる。
// 想定外のエラーはログに記録し、詳細を含まない一般的な500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadRequest
		switch apiErr.Code {
		case model.ErrCodeInvalidCredentials, model.ErrCodeInvalidSession:
			status = http.StatusUnauthorized
		}
		writeError(w, status, apiErr.Message)
		return
	}

	slog.Error("unexpected error", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "内部エラーが発生しました。")
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーの欠落・形式不正・空トークンはfalseを返す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
