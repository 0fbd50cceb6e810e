// Package auth はパスワード認証、セッション管理、パスワードリセットのドメインロジックを提供する。
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// PasswordHasher はパスワードのハッシュ化と検証のインターフェース。
type PasswordHasher interface {
	// Hash は平文パスワードからハッシュを生成する。
	Hash(password string) (string, error)

	// Verify は平文パスワードがハッシュと一致するかを返す。
	Verify(password, hash string) bool
}

// BcryptHasher はbcryptを使用したPasswordHasherの実装。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はデフォルトコストのBcryptHasherを生成する。
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// Hash は平文パスワードのbcryptハッシュを生成する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Verify は平文パスワードがbcryptハッシュと一致するかを返す。
func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
