package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sugiyama/opsdesk/internal/model"
)

// PostgresOAuthStateRepo はPostgreSQLを使用したOAuth stateリポジトリ。
type PostgresOAuthStateRepo struct {
	db *sql.DB
}

// NewPostgresOAuthStateRepo はPostgresOAuthStateRepoを生成する。
func NewPostgresOAuthStateRepo(db *sql.DB) *PostgresOAuthStateRepo {
	return &PostgresOAuthStateRepo{db: db}
}

// Create はstateレコードを作成する。
func (r *PostgresOAuthStateRepo) Create(ctx context.Context, state *model.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, organization_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		state.State, state.OrganizationID, state.ExpiresAt, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert oauth state: %w", err)
	}
	return nil
}

// Consume はstate値を原子的に削除して返す。
// DELETE ... RETURNINGにより、並行するコールバックが同一stateを
// 二重に消費することはない。未知・期限切れの場合はnilを返す。
func (r *PostgresOAuthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	st := &model.OAuthState{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states
		 WHERE state = $1 AND expires_at > now()
		 RETURNING state, organization_id, expires_at, created_at`,
		state,
	).Scan(&st.State, &st.OrganizationID, &st.ExpiresAt, &st.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	return st, nil
}

// DeleteExpired は期限切れのstateレコードを削除し、削除件数を返す。
func (r *PostgresOAuthStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*PostgresOAuthStateRepo)(nil)
