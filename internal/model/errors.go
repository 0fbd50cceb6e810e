package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 認証系のメッセージは列挙攻撃を防ぐため意図的に原因を区別しない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, license, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidSession     = "INVALID_SESSION"
	ErrCodeInvalidResetToken  = "INVALID_RESET_TOKEN"
	ErrCodeInvalidField       = "INVALID_FIELD"
)

// NewInvalidRequestError はリクエスト形式不正のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
	}
}

// NewWeakPasswordError はパスワード長不足のエラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "パスワードは8文字以上で指定してください。",
		Category: "validation",
	}
}

// NewDuplicateEmailError はメールアドレス重複のエラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
	}
}

// NewInvalidCredentialsError は認証失敗のエラーを生成する。
// 「ユーザーが存在しない」「パスワードが違う」「無効化済み」を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
	}
}

// NewInvalidSessionError はセッション無効のエラーを生成する。
// トークン不存在と期限切れを区別しない。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
	}
}

// NewInvalidResetTokenError はリセットトークン無効のエラーを生成する。
// 不存在・期限切れ・消費済みを区別しない。
func NewInvalidResetTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResetToken,
		Message:  "トークンが無効または期限切れです。",
		Category: "auth",
	}
}

// NewInvalidFieldError は更新フィールド不正のエラーを生成する。
func NewInvalidFieldError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidField,
		Message:  reason,
		Category: "validation",
	}
}
