package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// tokenBytes はトークンの乱数バイト長。32バイト = 64文字の16進数文字列。
const tokenBytes = 32

// GenerateToken は暗号的に安全な不透明トークンを生成する。
// セッショントークンとパスワードリセットトークンの両方で使用する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashResetToken はリセットトークンのSHA-256ハッシュを返す。
// 平文トークンはユーザーにのみ渡し、DBにはこのハッシュだけを保存する。
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken は平文トークンが保存済みハッシュと一致するかを返す。
// タイミング攻撃を防ぐため定数時間比較を使用する。
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
