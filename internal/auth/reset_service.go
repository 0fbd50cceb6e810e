package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ysaito/authman/internal/mailer"
	"github.com/ysaito/authman/internal/model"
	"github.com/ysaito/authman/internal/repository"
)

// ResetConfig はパスワードリセットサービスの設定。
type ResetConfig struct {
	TokenTTL time.Duration // リセットトークンの有効期間
}

// ResetService はパスワードリセットの2段階フローを提供する。
// 要求フェーズは単回使用トークンを発行し、確定フェーズはトークンを検証して
// パスワードハッシュを置き換える。
type ResetService struct {
	userRepo  repository.UserRepository
	resetRepo repository.PasswordResetRepository
	hasher    PasswordHasher
	mail      mailer.Provider
	config    ResetConfig
}

// NewResetService はResetServiceを生成する。
func NewResetService(
	userRepo repository.UserRepository,
	resetRepo repository.PasswordResetRepository,
	hasher PasswordHasher,
	mail mailer.Provider,
	config ResetConfig,
) *ResetService {
	return &ResetService{
		userRepo:  userRepo,
		resetRepo: resetRepo,
		hasher:    hasher,
		mail:      mail,
		config:    config,
	}
}

// Request はリセットトークンを発行する。
// アカウントの存在を漏らさないため、ユーザーが存在しない場合も
// エラーにせず空トークンを返す（呼び出し側は常に同一の成功応答を返すこと）。
// メール送信の失敗もログに記録するのみで、応答には影響させない。
func (s *ResetService) Request(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// アカウント列挙を防ぐため、存在しないメールでも成功として扱う
		return "", nil
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	reset := &model.PasswordReset{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: HashResetToken(token),
		ExpiresAt: now.Add(s.config.TokenTTL),
		CreatedAt: now,
	}

	if err := s.resetRepo.Create(ctx, reset); err != nil {
		return "", fmt.Errorf("failed to create password reset: %w", err)
	}

	if err := s.mail.SendPasswordReset(ctx, user.Email, token); err != nil {
		slog.Error("failed to send password reset mail",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("password reset requested",
		slog.String("user_id", user.ID),
	)

	return token, nil
}

// Confirm はリセットトークンを検証し、パスワードハッシュを置き換える。
// トークンの不存在・期限切れ・消費済みはすべて同一のInvalidResetTokenエラーになる。
// トークンの消費は原子的に行い、並行する確定リクエストでも成功は1回だけになる。
func (s *ResetService) Confirm(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return model.NewWeakPasswordError()
	}
	if token == "" {
		return model.NewInvalidResetTokenError()
	}

	reset, err := s.resetRepo.FindByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		return fmt.Errorf("failed to find password reset: %w", err)
	}
	if reset == nil || !VerifyResetToken(token, reset.TokenHash) {
		return model.NewInvalidResetTokenError()
	}
	if reset.IsExpired() || reset.IsConsumed() {
		return model.NewInvalidResetTokenError()
	}

	// 先に消費を確定させる。パスワード更新が失敗してもトークンは再利用できない
	// （単回使用の不変条件をフローの失敗より優先する）。
	if err := s.resetRepo.Consume(ctx, reset.ID); err != nil {
		if err == repository.ErrAlreadyConsumed {
			return model.NewInvalidResetTokenError()
		}
		return fmt.Errorf("failed to consume password reset: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, reset.UserID, hash); err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}

	slog.Info("password reset completed",
		slog.String("user_id", reset.UserID),
	)

	return nil
}
