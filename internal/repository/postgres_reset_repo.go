package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ysaito/authman/internal/model"
)

// PostgresResetRepo はPostgreSQLを使用したパスワードリセットリポジトリ。
type PostgresResetRepo struct {
	db *sql.DB
}

// NewPostgresResetRepo はPostgresResetRepoを生成する。
func NewPostgresResetRepo(db *sql.DB) *PostgresResetRepo {
	return &PostgresResetRepo{db: db}
}

// Create はリセットトークンレコードを作成する。
func (r *PostgresResetRepo) Create(ctx context.Context, reset *model.PasswordReset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		reset.ID, reset.UserID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create password reset: %w", err)
	}
	return nil
}

// FindByTokenHash はトークンハッシュでレコードを検索する。見つからない場合はnilを返す。
func (r *PostgresResetRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.PasswordReset, error) {
	reset := &model.PasswordReset{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, consumed_at, created_at
		 FROM password_resets
		 WHERE token_hash = $1`,
		tokenHash,
	).Scan(&reset.ID, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt,
		&reset.ConsumedAt, &reset.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find password reset: %w", err)
	}

	return reset, nil
}

// Consume はトークンを原子的に消費済みにする。
// WHERE句のconsumed_at IS NULLにより、並行リクエスト下でも
// 勝者は1リクエストだけになる。敗者にはErrAlreadyConsumedを返す。
func (r *PostgresResetRepo) Consume(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE password_resets SET consumed_at = now()
		 WHERE id = $1 AND consumed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to consume password reset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}

// DeleteStale は期限切れまたは消費済みのレコードを削除し、削除件数を返す。
func (r *PostgresResetRepo) DeleteStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_resets WHERE expires_at <= now() OR consumed_at IS NOT NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale password resets: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ PasswordResetRepository = (*PostgresResetRepo)(nil)
