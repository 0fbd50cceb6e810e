package model

import "time"

// ライセンスのデフォルト値。
const (
	LicensePlanTrial   = "trial"
	LicenseStatusTrial = "trial"
)

// License はユーザーに紐づくプラン情報を表す。
// 1ユーザーにつき最大1件（licenses.user_idのUNIQUE制約で保証する）。
type License struct {
	ID        string
	UserID    string
	Plan      string
	Status    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}
