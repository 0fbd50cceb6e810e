package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/ysaito/authman/internal/model"
	"github.com/ysaito/authman/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// UpdateParams はユーザー更新リクエストのフィールド。
// nilのフィールドは変更しない部分更新を表す。
type UpdateParams struct {
	Email    *string
	Password *string
	Metadata map[string]any
	IsActive *bool
}

// Service はパスワード認証とセッション管理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	sanitizer   *bluemonday.Policy
	config      ServiceConfig
}

// NewService はServiceを生成する。
// ユーザー入力のメタデータ値はStrictPolicyでサニタイズする。
// CRM側でメタデータをそのまま表示するため、HTMLは一切許可しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		sanitizer:   bluemonday.StrictPolicy(),
		config:      config,
	}
}

// SignUp は新規ユーザーを登録する。
// メールアドレスは小文字に正規化し、パスワードは8文字以上を要求する。
// メール重複時はDuplicateEmailエラーを返す。
func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, model.NewInvalidRequestError("メールアドレスは必須です。")
	}
	if len(password) < MinPasswordLength {
		return nil, model.NewWeakPasswordError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		Metadata:     s.sanitizeMetadata(metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if err == repository.ErrDuplicateEmail {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// SignIn は資格情報を検証し、新しいセッションを発行する。
// 「ユーザーが存在しない」「パスワードが違う」「無効化済み」のいずれでも
// 同一のInvalidCredentialsエラーを返す（列挙攻撃対策）。
func (s *Service) SignIn(ctx context.Context, email, password, userAgent, ip string) (*model.User, *model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		slog.Warn("sign-in failed",
			slog.String("user_id", user.ID),
		)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID, userAgent, ip)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
	)

	return user, session, nil
}

// ResolveSession はBearerトークンからセッションとユーザーを解決する。
// トークン不存在・期限切れ・ユーザー削除済みのいずれでも
// 同一のInvalidSessionエラーを返す。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.User, *model.Session, error) {
	if token == "" {
		return nil, nil, model.NewInvalidSessionError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, model.NewInvalidSessionError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewInvalidSessionError()
	}

	return user, session, nil
}

// UpdateUser はセッションで特定されたユーザーの属性を部分更新する。
// 更新対象のユーザーIDはセッション由来であり、リクエストボディからは受け取らない。
// いずれかのフィールドが検証で拒否された場合、他のフィールドも一切永続化しない。
func (s *Service) UpdateUser(ctx context.Context, userID string, params UpdateParams) (*model.User, error) {
	// 検証とハッシュ化は最初のリポジトリ書き込みより前にすべて終える
	var passwordHash string
	if params.Password != nil {
		if len(*params.Password) < MinPasswordLength {
			return nil, model.NewWeakPasswordError()
		}
		hash, err := s.hasher.Hash(*params.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		passwordHash = hash
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidSessionError()
	}

	if params.Email != nil {
		email := NormalizeEmail(*params.Email)
		if email == "" {
			return nil, model.NewInvalidFieldError("メールアドレスを空にすることはできません。")
		}
		user.Email = email
	}
	if params.Metadata != nil {
		user.Metadata = s.sanitizeMetadata(params.Metadata)
	}
	if params.IsActive != nil {
		user.IsActive = *params.IsActive
	}
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		if err == repository.ErrDuplicateEmail {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	// パスワード変更は専用の更新クエリで行う
	if params.Password != nil {
		if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, passwordHash); err != nil {
			return nil, fmt.Errorf("failed to update password hash: %w", err)
		}
		user.PasswordHash = passwordHash
	}

	slog.Info("user updated",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// SignOut は提示されたトークンのセッションのみを破棄する。
// 同一ユーザーの他のセッションには影響しない。
// 既に無効なトークンでもエラーにしない（呼び出し側から見て冪等）。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return model.NewInvalidSessionError()
	}

	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, userAgent, ip string) (*model.Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// sanitizeMetadata はメタデータの文字列値からHTMLを除去する。
// 文字列以外の値はそのまま保持する。
func (s *Service) sanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	sanitized := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if str, ok := v.(string); ok {
			sanitized[k] = s.sanitizer.Sanitize(str)
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}

// NormalizeEmail はメールアドレスを前後空白除去と小文字化で正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
