// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/ysaito/authman/internal/model"
)

// ストレージ層の一意性制約違反を表すセンチネルエラー。
// サービス層でAPIErrorへのマッピングに使用する。
var (
	// ErrDuplicateEmail はusers.emailのUNIQUE制約違反を表す。
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrDuplicateLicense はlicenses.user_idのUNIQUE制約違反を表す。
	// 並行する作成リクエストが衝突した場合に返る。
	ErrDuplicateLicense = errors.New("license already exists for user")

	// ErrAlreadyConsumed はリセットトークンが既に消費済みであることを表す。
	ErrAlreadyConsumed = errors.New("reset token already consumed")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メール重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は小文字正規化済みメールアドレスでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Update はユーザーのemail、is_active、metadata、updated_atを更新する。
	// メール重複時はErrDuplicateEmailを返す。
	Update(ctx context.Context, user *model.User) error

	// UpdatePasswordHash は指定ユーザーのパスワードハッシュを置き換える。
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken は指定トークンのセッションを取得する。
	// 期限切れまたは不存在の場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)

	// DeleteByToken は指定トークンのセッションのみを削除する。
	// 同一ユーザーの他のセッションには影響しない。存在しないトークンでもエラーにならない。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PasswordResetRepository はパスワードリセットトークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create はリセットトークンレコードを作成する。
	Create(ctx context.Context, reset *model.PasswordReset) error

	// FindByTokenHash はトークンハッシュでレコードを検索する。見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.PasswordReset, error)

	// Consume はトークンを原子的に消費済みにする。
	// 既に消費済みの場合はErrAlreadyConsumedを返す。
	// 並行リクエスト下でも単回使用を保証する。
	Consume(ctx context.Context, id string) error

	// DeleteStale は期限切れまたは消費済みのレコードを削除し、削除件数を返す。
	DeleteStale(ctx context.Context) (int64, error)
}

// LicenseRepository はライセンスデータの永続化インターフェース。
type LicenseRepository interface {
	// Create はライセンスを作成する。
	// 同一ユーザーに既存のライセンスがある場合はErrDuplicateLicenseを返す。
	Create(ctx context.Context, license *model.License) error

	// FindByUserID は指定ユーザーのライセンスを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.License, error)
}
