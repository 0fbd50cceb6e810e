package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ysaito/authman/internal/license"
	"github.com/ysaito/authman/internal/model"
)

// LicenseServiceInterface はライセンスハンドラーが必要とするサービスインターフェース。
type LicenseServiceInterface interface {
	Create(ctx context.Context, params license.CreateParams) (*model.License, bool, error)
}

// LicenseHandler はライセンス作成のHTTPハンドラー。
// サービスロール向けのエンドポイントであり、セッション認証は要求しない。
type LicenseHandler struct {
	service LicenseServiceInterface
}

// NewLicenseHandler はLicenseHandlerを生成する。
func NewLicenseHandler(service LicenseServiceInterface) *LicenseHandler {
	return &LicenseHandler{service: service}
}

type createLicenseRequest struct {
	UserID    string     `json:"user_id"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Create はユーザーにライセンスを付与する（冪等）。
// POST /license
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストボディが不正です。")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_idは必須です。")
		return
	}

	lic, created, err := h.service.Create(r.Context(), license.CreateParams{
		UserID:    req.UserID,
		Plan:      req.Plan,
		Status:    req.Status,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	message := "ライセンスを作成しました。"
	if !created {
		message = "ライセンスは既に存在します。"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"license": newLicenseResponse(lic),
	})
}
