package model

import "time"

// ChannelType は接続された外部コミュニケーションアカウントの種別を表す。
type ChannelType string

const (
	// ChannelTypeEmail はメールボックスチャネルを示す。
	ChannelTypeEmail ChannelType = "email"
)

// ChannelStatus はチャネルの状態を表す。
type ChannelStatus string

const (
	// ChannelStatusActive は有効なチャネルを示す。
	ChannelStatusActive ChannelStatus = "active"
	// ChannelStatusInactive は無効化されたチャネルを示す。
	// リフレッシュトークンの失効または明示的な切断で遷移し、
	// ユーザーが再接続するまで回復しない。
	ChannelStatusInactive ChannelStatus = "inactive"
)

// Credential はチャネルに委譲されたOAuthクレデンシャルを表す。
// Channelの子バリューオブジェクトであり、独立したライフサイクルを持たない。
// RefreshTokenはプロバイダーがリフレッシュ応答で省略することがあるため、
// 空値で上書きしてはならない。
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
}

// ExpiresWithin はクレデンシャルが指定した猶予時間内に失効するかを返す。
func (c *Credential) ExpiresWithin(skew time.Duration, now time.Time) bool {
	return !c.ExpiresAt.After(now.Add(skew))
}

// Subscription はプロバイダー側のpush通知登録（watch）を表す。
// Cursorは増分同期を再開するための単調増加の不透明な位置で、
// 明示的なリシンク以外で巻き戻してはならない。
type Subscription struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
	Cursor    string    `json:"cursor"`
}

// ExpiresWithin はサブスクリプションが指定した猶予時間内に失効するかを返す。
func (s *Subscription) ExpiresWithin(skew time.Duration, now time.Time) bool {
	return !s.ExpiresAt.After(now.Add(skew))
}

// Channel は1つの組織に属する1つの外部コミュニケーションアカウント
// （例: 1つのメールボックス）の接続を表す集約ルート。
// (OrganizationID, Type, Identifier)の自然キーで一意。
// ハード削除はされず、切断はステータス変更で表現する。
type Channel struct {
	ID             string
	OrganizationID string
	Type           ChannelType
	Provider       string
	Identifier     string
	Status         ChannelStatus
	Credential     Credential
	Subscription   Subscription
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
