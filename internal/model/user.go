// Package model はドメインモデルを定義する。
package model

import "time"

// User はCRMの利用者アカウントを表す。
// Emailは小文字に正規化して一意に保存する。
// PasswordHashはbcryptハッシュであり、APIレスポンスには決して含めない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はログイン済みセッションを表す。
// Tokenは推測不可能な不透明文字列で、Bearerトークンとして提示される。
// 1ユーザーが複数の同時セッションを持つことができる。
type Session struct {
	Token     string
	UserID    string
	UserAgent string
	IP        string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はセッションが期限切れかどうかを返す。
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
