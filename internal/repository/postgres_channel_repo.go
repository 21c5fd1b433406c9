package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
)

// PostgresChannelRepo はPostgreSQLを使用したチャネルリポジトリ。
// CredentialとSubscriptionはJSONBカラムとしてチャネル行に埋め込む。
type PostgresChannelRepo struct {
	db *sql.DB
}

// NewPostgresChannelRepo はPostgresChannelRepoを生成する。
func NewPostgresChannelRepo(db *sql.DB) *PostgresChannelRepo {
	return &PostgresChannelRepo{db: db}
}

const channelColumns = `id, organization_id, channel_type, provider, identifier, status, credential, subscription, created_at, updated_at`

// FindByID は指定IDのチャネルを取得する。見つからない場合はnilを返す。
func (r *PostgresChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`,
		id,
	))
}

// FindByNaturalKey は(organization_id, channel_type, identifier)でチャネルを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresChannelRepo) FindByNaturalKey(ctx context.Context, orgID string, channelType model.ChannelType, identifier string) (*model.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE organization_id = $1 AND channel_type = $2 AND identifier = $3`,
		orgID, channelType, identifier,
	))
}

// Upsert は自然キーでチャネルをUPSERTする。
// 既存レコードがある場合はstatus、credential、subscriptionを置き換える。
// 挿入・更新後のID、created_at、updated_atをchに反映する。
func (r *PostgresChannelRepo) Upsert(ctx context.Context, ch *model.Channel) error {
	credJSON, err := json.Marshal(ch.Credential)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	subJSON, err := json.Marshal(ch.Subscription)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO channels (id, organization_id, channel_type, provider, identifier, status, credential, subscription, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (organization_id, channel_type, identifier) DO UPDATE SET
		   provider     = EXCLUDED.provider,
		   status       = EXCLUDED.status,
		   credential   = EXCLUDED.credential,
		   subscription = EXCLUDED.subscription,
		   updated_at   = now()
		 RETURNING id, created_at, updated_at`,
		ch.ID, ch.OrganizationID, ch.Type, ch.Provider, ch.Identifier, ch.Status, credJSON, subJSON,
	).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}

	return nil
}

// UpdateCredential は格納済みクレデンシャルの失効時刻がprevExpiresAtと
// 一致する場合のみ更新するcompare-and-swap。
// APIプロセスの遅延リフレッシュとワーカーのスイープが同一チャネルに
// 競合した場合、後からコミットした側はfalseを受け取り結果を破棄する。
func (r *PostgresChannelRepo) UpdateCredential(ctx context.Context, channelID string, cred *model.Credential, prevExpiresAt time.Time) (bool, error) {
	credJSON, err := json.Marshal(cred)
	if err != nil {
		return false, fmt.Errorf("failed to marshal credential: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE channels SET credential = $2, updated_at = now()
		 WHERE id = $1 AND (credential->>'expires_at')::timestamptz = $3`,
		channelID, credJSON, prevExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update credential: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdateSubscription は指定チャネルのサブスクリプションのみを更新する。
func (r *PostgresChannelRepo) UpdateSubscription(ctx context.Context, channelID string, sub *model.Subscription) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE channels SET subscription = $2, updated_at = now() WHERE id = $1`,
		channelID, subJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireOneRow(result, channelID)
}

// UpdateStatus は指定チャネルのステータスを更新する。
func (r *PostgresChannelRepo) UpdateStatus(ctx context.Context, channelID string, status model.ChannelStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE channels SET status = $2, updated_at = now() WHERE id = $1`,
		channelID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update channel status: %w", err)
	}
	return requireOneRow(result, channelID)
}

// ListDueForRenewal はクレデンシャルまたはwatchがcutoffまでに失効する
// activeチャネルを取得する。行ロックは取らない: 複数レプリカが同一
// チャネルを列挙しうるが、リフレッシュのコミットはUpdateCredentialの
// compare-and-swapで直列化され、watchの再登録は冪等のため重複は無害。
func (r *PostgresChannelRepo) ListDueForRenewal(ctx context.Context, cutoff time.Time) ([]*model.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE status = 'active'
		   AND ((credential->>'expires_at')::timestamptz <= $1
		     OR (subscription->>'expires_at')::timestamptz <= $1)
		 ORDER BY updated_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels due for renewal: %w", err)
	}
	defer rows.Close()

	var channels []*model.Channel
	for rows.Next() {
		ch, err := scanChannelRow(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}

	return channels, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChannel は1行のチャネルレコードをスキャンする。行が存在しない場合はnilを返す。
func scanChannel(row *sql.Row) (*model.Channel, error) {
	ch, err := scanChannelRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ch, err
}

// scanChannelRow はチャネル行をスキャンし、JSONBカラムを展開する。
func scanChannelRow(row rowScanner) (*model.Channel, error) {
	ch := &model.Channel{}
	var credJSON, subJSON []byte

	err := row.Scan(
		&ch.ID, &ch.OrganizationID, &ch.Type, &ch.Provider, &ch.Identifier,
		&ch.Status, &credJSON, &subJSON, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}

	if err := json.Unmarshal(credJSON, &ch.Credential); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	if err := json.Unmarshal(subJSON, &ch.Subscription); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	return ch, nil
}

// requireOneRow は更新が1行に適用されたことを検証する。
func requireOneRow(result sql.Result, channelID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("channel not found: %s", channelID)
	}
	return nil
}

// compile-time interface check
var _ ChannelRepository = (*PostgresChannelRepo)(nil)
