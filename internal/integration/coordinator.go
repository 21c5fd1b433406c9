package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// stateTTL はanti-forgery state値の有効期間。
// 認可フローはユーザーのブラウザ往復を含むため数分の猶予を持たせる。
const stateTTL = 10 * time.Minute

// FlowCoordinator はOAuth認可コードフローを駆動し、チャネルを確立する。
// state値はサーバーサイドに保存し、コールバックで1回だけ消費することで
// プロバイダー往復だけに依存しないCSRF防御を行う。
type FlowCoordinator struct {
	provider MailProvider
	channels repository.ChannelRepository
	states   repository.OAuthStateRepository
}

// NewFlowCoordinator はFlowCoordinatorを生成する。
func NewFlowCoordinator(
	provider MailProvider,
	channels repository.ChannelRepository,
	states repository.OAuthStateRepository,
) *FlowCoordinator {
	return &FlowCoordinator{
		provider: provider,
		channels: channels,
		states:   states,
	}
}

// BeginAuthorization は認可フローを開始し、プロバイダーのリダイレクトURLを返す。
// 新しいstate値を生成して組織に紐付けて保存する。
func (c *FlowCoordinator) BeginAuthorization(ctx context.Context, orgID string) (string, error) {
	if orgID == "" {
		return "", model.NewOrganizationRequiredError()
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	now := time.Now()
	if err := c.states.Create(ctx, &model.OAuthState{
		State:          state,
		OrganizationID: orgID,
		ExpiresAt:      now.Add(stateTTL),
		CreatedAt:      now,
	}); err != nil {
		return "", fmt.Errorf("failed to persist oauth state: %w", err)
	}

	return c.provider.AuthCodeURL(state), nil
}

// CompleteAuthorization は認可コードを交換し、チャネルをUPSERTする。
// state値の検証に失敗した場合、またはプロバイダー呼び出しが失敗した場合、
// チャネルは一切作成・変更されない（all-or-nothing）。
func (c *FlowCoordinator) CompleteAuthorization(ctx context.Context, code, state, orgID string) (*model.Channel, error) {
	// 1. stateの消費と検証（未知・期限切れ・他組織はすべて拒否）
	stored, err := c.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if stored == nil || stored.OrganizationID != orgID {
		return nil, model.NewInvalidOAuthStateError()
	}

	// 2. 認可コードをトークンに交換
	tok, err := c.provider.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("authorization code exchange failed",
			slog.String("provider", c.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderExchangeError()
	}

	// 3. アカウントの正規アドレスを取得
	address, err := c.provider.FetchAddress(ctx, tok.AccessToken)
	if err != nil {
		slog.Error("account address lookup failed",
			slog.String("provider", c.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderExchangeError()
	}

	// 4. 再接続時にプロバイダーがリフレッシュトークンを省略した場合は
	//    既存チャネルの値を引き継ぐ
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		existing, err := c.channels.FindByNaturalKey(ctx, orgID, model.ChannelTypeEmail, address)
		if err != nil {
			return nil, fmt.Errorf("failed to look up existing channel: %w", err)
		}
		if existing != nil {
			refreshToken = existing.Credential.RefreshToken
		}
	}

	// 5. 自然キーでチャネルをUPSERT（再接続は冪等）
	//    Subscriptionはリセットされ、SubscriptionManagerが再確立する
	ch := &model.Channel{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           model.ChannelTypeEmail,
		Provider:       c.provider.Name(),
		Identifier:     address,
		Status:         model.ChannelStatusActive,
		Credential: model.Credential{
			AccessToken:  tok.AccessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    tok.ExpiresAt,
			Scopes:       tok.Scopes,
		},
		Subscription: model.Subscription{Active: false},
	}

	if err := c.channels.Upsert(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to upsert channel: %w", err)
	}

	slog.Info("channel connected",
		slog.String("channel_id", ch.ID),
		slog.String("organization_id", orgID),
		slog.String("provider", c.provider.Name()),
	)

	return ch, nil
}

// Disconnect はチャネルを無効化する。
// 所有権の検証に失敗した場合、チャネルの存在有無に関わらず状態は変更されない。
// ハード削除は行わない。
func (c *FlowCoordinator) Disconnect(ctx context.Context, channelID, orgID string) error {
	ch, err := c.channels.FindByID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to find channel: %w", err)
	}
	if ch == nil {
		return model.NewChannelNotFoundError(channelID)
	}
	if ch.OrganizationID != orgID {
		return model.NewOwnershipViolationError()
	}

	if err := c.channels.UpdateStatus(ctx, channelID, model.ChannelStatusInactive); err != nil {
		return fmt.Errorf("failed to deactivate channel: %w", err)
	}

	slog.Info("channel disconnected",
		slog.String("channel_id", channelID),
		slog.String("organization_id", orgID),
	)

	return nil
}

// generateState は暗号的に安全なランダムstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
