// Package model はドメインモデルを定義する。
package model

import "time"

// User はストアフロントの利用ユーザーを表す。
// IDはFirebaseのUIDをそのまま使用する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
