// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスの一意制約違反はエラーを返す。
	Create(ctx context.Context, user *model.User) error
}

// ChannelRepository はチャネル集約の永続化インターフェース。
// CredentialとSubscriptionはチャネルレコードに埋め込んで保存する。
type ChannelRepository interface {
	// FindByID は指定IDのチャネルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Channel, error)

	// FindByNaturalKey は(organization_id, channel_type, identifier)の
	// 自然キーでチャネルを検索する。見つからない場合はnilを返す。
	FindByNaturalKey(ctx context.Context, orgID string, channelType model.ChannelType, identifier string) (*model.Channel, error)

	// Upsert は自然キーでチャネルをUPSERTする。
	// 既存レコードがある場合はstatus、credential、subscriptionを置き換え、
	// 再接続を冪等にする。挿入・更新後のIDとタイムスタンプをchに反映する。
	Upsert(ctx context.Context, ch *model.Channel) error

	// UpdateCredential は格納済みクレデンシャルの失効時刻がprevExpiresAtと
	// 一致する場合のみ更新するcompare-and-swap。別プロセスが先に更新済みの
	// 場合はfalseを返し、呼び出し元は自身のリフレッシュ結果を破棄する。
	UpdateCredential(ctx context.Context, channelID string, cred *model.Credential, prevExpiresAt time.Time) (bool, error)

	// UpdateSubscription は指定チャネルのサブスクリプションのみを更新する。
	UpdateSubscription(ctx context.Context, channelID string, sub *model.Subscription) error

	// UpdateStatus は指定チャネルのステータスを更新する。
	UpdateStatus(ctx context.Context, channelID string, status model.ChannelStatus) error

	// ListDueForRenewal はクレデンシャルまたはwatchがcutoffまでに失効する
	// activeチャネルを取得する。複数レプリカが同一チャネルを重複して
	// 列挙しうるが、クレデンシャルのコミットはcompare-and-swapのため
	// 二重リフレッシュの結果は片方が破棄される。
	ListDueForRenewal(ctx context.Context, cutoff time.Time) ([]*model.Channel, error)
}

// OAuthStateRepository はOAuth認可フローのstate値の永続化インターフェース。
// state値は短命かつ1回限りで消費される。
type OAuthStateRepository interface {
	// Create はstateレコードを作成する。
	Create(ctx context.Context, state *model.OAuthState) error

	// Consume はstate値を原子的に削除して返す。
	// 未知・期限切れ・消費済みの場合はnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)

	// DeleteExpired は期限切れのstateレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
