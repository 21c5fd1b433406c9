package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// SubscriptionManager はチャネルのpush通知登録（watch）を確立・更新する。
// watchの失敗はチャネル自体を無効化しない。クレデンシャルが有効であれば
// 次回のスイープで再試行される。
type SubscriptionManager struct {
	provider  MailProvider
	channels  repository.ChannelRepository
	refresher *Refresher
	skew      time.Duration

	now func() time.Time // テスト用に差し替え可能
}

// NewSubscriptionManager はSubscriptionManagerを生成する。
func NewSubscriptionManager(
	provider MailProvider,
	channels repository.ChannelRepository,
	refresher *Refresher,
	skew time.Duration,
) *SubscriptionManager {
	return &SubscriptionManager{
		provider:  provider,
		channels:  channels,
		refresher: refresher,
		skew:      skew,
		now:       time.Now,
	}
}

// Establish はチャネルのwatchを（再）確立する。
// カーソルはwatch応答の値を毎回採用する。historyIdは単調増加のため
// 採用しても巻き戻らない。応答にカーソルがない場合のみ既存値を保持する。
func (m *SubscriptionManager) Establish(ctx context.Context, ch *model.Channel) error {
	cred, err := m.refresher.EnsureFresh(ctx, ch)
	if err != nil {
		return err
	}

	result, err := m.provider.Watch(ctx, cred.AccessToken)
	if err != nil {
		// watchの失敗は非致命的: サブスクリプションを非アクティブとして記録し、
		// チャネルのステータスは変更しない
		slog.Warn("watch registration failed",
			slog.String("channel_id", ch.ID),
			slog.String("provider", m.provider.Name()),
			slog.String("error", err.Error()),
		)

		sub := &model.Subscription{
			Active:    false,
			ExpiresAt: ch.Subscription.ExpiresAt,
			Cursor:    ch.Subscription.Cursor,
		}
		if updateErr := m.channels.UpdateSubscription(ctx, ch.ID, sub); updateErr != nil {
			slog.Error("failed to record inactive subscription",
				slog.String("channel_id", ch.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		return model.NewProviderUnavailableError()
	}

	cursor := result.Cursor
	if cursor == "" {
		cursor = ch.Subscription.Cursor
	}

	sub := &model.Subscription{
		Active:    true,
		ExpiresAt: result.ExpiresAt,
		Cursor:    cursor,
	}
	if err := m.channels.UpdateSubscription(ctx, ch.ID, sub); err != nil {
		return fmt.Errorf("failed to persist subscription: %w", err)
	}
	ch.Subscription = *sub

	slog.Info("watch established",
		slog.String("channel_id", ch.ID),
		slog.String("provider", m.provider.Name()),
		slog.Time("expires_at", result.ExpiresAt),
	)

	return nil
}

// RenewIfNeeded はwatchが失効済みまたは猶予時間内に失効する場合のみ再確立する。
func (m *SubscriptionManager) RenewIfNeeded(ctx context.Context, ch *model.Channel) error {
	if ch.Subscription.Active && !ch.Subscription.ExpiresWithin(m.skew, m.now()) {
		return nil
	}
	return m.Establish(ctx, ch)
}
