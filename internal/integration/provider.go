// Package integration は外部メールプロバイダーとのOAuth連携と、
// チャネルに委譲されたクレデンシャルのライフサイクル管理を提供する。
package integration

import (
	"context"
	"errors"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
)

// ErrRefreshRejected はリフレッシュトークンがプロバイダーに恒久的に
// 拒否されたことを表す。該当チャネルは再接続まで回復しない。
var ErrRefreshRejected = errors.New("refresh token rejected by provider")

// ErrProviderUnavailable はタイムアウト・5xx等の一時的なプロバイダー障害を表す。
// チャネルの状態は変更せず、次回の試行でリトライする。
var ErrProviderUnavailable = errors.New("provider temporarily unavailable")

// ProviderToken はプロバイダーから取得したトークンセットを表す。
// RefreshTokenはリフレッシュ応答で省略されることがある。
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// WatchResult はプロバイダーのwatch（push通知登録）呼び出しの結果を表す。
type WatchResult struct {
	ExpiresAt time.Time
	Cursor    string
}

// MailProvider は外部メールプロバイダーの操作インターフェース。
// 将来的に複数プロバイダー（Gmail, Outlook等）に対応するための抽象化。
// 全メソッドは外部ネットワークI/Oを伴い、タイムアウトで制限される。
type MailProvider interface {
	// Name はプロバイダー識別子（"gmail"等）を返す。
	Name() string

	// AuthCodeURL は認可リクエストURLを生成する。副作用はない。
	AuthCodeURL(state string) string

	// ExchangeCode は認可コードを初期トークンセットに交換する。
	ExchangeCode(ctx context.Context, code string) (*ProviderToken, error)

	// FetchAddress はアクセストークンでアカウントの正規アドレスを取得する。
	FetchAddress(ctx context.Context, accessToken string) (string, error)

	// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
	// 恒久的な拒否はErrRefreshRejected、一時的な障害はErrProviderUnavailableを返す。
	Refresh(ctx context.Context, cred *model.Credential) (*ProviderToken, error)

	// Watch はメールボックスのpush通知登録を発行し、有効期限とカーソルを返す。
	Watch(ctx context.Context, accessToken string) (*WatchResult, error)
}
