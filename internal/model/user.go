// Package model はドメインモデルを定義する。
package model

import "time"

// UserStatus はユーザーアカウントの状態を表す。
type UserStatus string

const (
	// UserStatusActive は有効なユーザーを示す。
	UserStatusActive UserStatus = "active"
	// UserStatusInactive は無効化されたユーザーを示す。
	UserStatusInactive UserStatus = "inactive"
)

// User はプラットフォームの利用ユーザーを表す。
// 認証ゲートが解決するアイデンティティの実体。
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	HashedPassword string
	OrganizationID string
	Status         UserStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Organization はマルチテナントの組織（テナント）を表す。
// この中核ではIDの参照のみを行い、CRUDは外部コラボレーターが担う。
type Organization struct {
	ID        string
	Name      string
	OwnerID   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OAuthState はOAuth認可フローのanti-forgery state値のサーバーサイド記録。
// BeginAuthorizationで発行し、CompleteAuthorizationで1回だけ消費する。
type OAuthState struct {
	State          string
	OrganizationID string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
