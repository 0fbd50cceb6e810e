package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ysaito/authman/internal/model"
)

// PostgresLicenseRepo はPostgreSQLを使用したライセンスリポジトリ。
type PostgresLicenseRepo struct {
	db *sql.DB
}

// NewPostgresLicenseRepo はPostgresLicenseRepoを生成する。
func NewPostgresLicenseRepo(db *sql.DB) *PostgresLicenseRepo {
	return &PostgresLicenseRepo{db: db}
}

// Create はライセンスを作成する。
// 同一ユーザーに既存のライセンスがある場合はErrDuplicateLicenseを返す。
func (r *PostgresLicenseRepo) Create(ctx context.Context, license *model.License) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO licenses (id, user_id, plan, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		license.ID, license.UserID, license.Plan, license.Status,
		license.ExpiresAt, license.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLicense
		}
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

// FindByUserID は指定ユーザーのライセンスを取得する。見つからない場合はnilを返す。
func (r *PostgresLicenseRepo) FindByUserID(ctx context.Context, userID string) (*model.License, error) {
	license := &model.License{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, expires_at, created_at
		 FROM licenses WHERE user_id = $1`,
		userID,
	).Scan(&license.ID, &license.UserID, &license.Plan, &license.Status,
		&license.ExpiresAt, &license.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find license: %w", err)
	}

	return license, nil
}

// compile-time interface check
var _ LicenseRepository = (*PostgresLicenseRepo)(nil)
