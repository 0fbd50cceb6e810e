package model

import "time"

// PasswordReset はパスワードリセットの単回使用トークンを表す。
// 平文トークンはユーザーにのみ渡し、DBにはSHA-256ハッシュを保存する。
// 消費済みまたは期限切れのトークンがパスワード変更を許可してはならない。
type PasswordReset struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// IsExpired はトークンが期限切れかどうかを返す。
func (r *PasswordReset) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsConsumed はトークンが既に使用済みかどうかを返す。
func (r *PasswordReset) IsConsumed() bool {
	return r.ConsumedAt != nil
}
