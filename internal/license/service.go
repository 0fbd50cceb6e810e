// Package license はユーザーへのライセンス付与のドメインロジックを提供する。
package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ysaito/authman/internal/model"
	"github.com/ysaito/authman/internal/repository"
)

// ServiceConfig はライセンスサービスの設定。
type ServiceConfig struct {
	TrialPeriodDays int // トライアル期間（日数）。デフォルト有効期限の算出に使用する
}

// CreateParams はライセンス作成リクエストのフィールド。
// Plan・Statusが空の場合とExpiresAtがnilの場合はトライアルのデフォルト値を適用する。
type CreateParams struct {
	UserID    string
	Plan      string
	Status    string
	ExpiresAt *time.Time
}

// Service はライセンス作成のビジネスロジックを提供する。
type Service struct {
	repo   repository.LicenseRepository
	config ServiceConfig
}

// NewService はServiceを生成する。
func NewService(repo repository.LicenseRepository, config ServiceConfig) *Service {
	return &Service{
		repo:   repo,
		config: config,
	}
}

// Create はユーザーにライセンスを付与する。呼び出し側から見て冪等であり、
// 既存のライセンスがある場合はそれを変更せずに返す（createdはfalse）。
// 存在確認と挿入の間で並行リクエストと衝突した場合は、
// licenses.user_idのUNIQUE制約違反を検出して既存レコードを返す。
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.License, bool, error) {
	if params.UserID == "" {
		return nil, false, model.NewInvalidRequestError("user_idは必須です。")
	}

	existing, err := s.repo.FindByUserID(ctx, params.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find license: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	lic := &model.License{
		ID:        uuid.New().String(),
		UserID:    params.UserID,
		Plan:      params.Plan,
		Status:    params.Status,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: time.Now(),
	}
	if lic.Plan == "" {
		lic.Plan = model.LicensePlanTrial
	}
	if lic.Status == "" {
		lic.Status = model.LicenseStatusTrial
	}
	if lic.ExpiresAt == nil {
		expires := time.Now().AddDate(0, 0, s.config.TrialPeriodDays)
		lic.ExpiresAt = &expires
	}

	if err := s.repo.Create(ctx, lic); err != nil {
		if err == repository.ErrDuplicateLicense {
			// 並行する作成リクエストに敗れた場合は勝者のレコードを返す
			winner, findErr := s.repo.FindByUserID(ctx, params.UserID)
			if findErr != nil {
				return nil, false, fmt.Errorf("failed to find license after conflict: %w", findErr)
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create license: %w", err)
	}

	slog.Info("license created",
		slog.String("user_id", lic.UserID),
		slog.String("plan", lic.Plan),
	)

	return lic, true, nil
}
