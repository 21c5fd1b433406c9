package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// Refresher はチャネルのアクセストークンを失効前に透過的に更新する。
// 同一チャネルへの並行リクエストはsingleflightで合流させ、
// プロバイダーへのリフレッシュ呼び出しを1回に抑える。
type Refresher struct {
	provider MailProvider
	channels repository.ChannelRepository
	skew     time.Duration
	group    singleflight.Group

	now func() time.Time // テスト用に差し替え可能
}

// NewRefresher はRefresherを生成する。
// skewはこの時間内に失効するトークンを事前更新の対象とする猶予。
func NewRefresher(provider MailProvider, channels repository.ChannelRepository, skew time.Duration) *Refresher {
	return &Refresher{
		provider: provider,
		channels: channels,
		skew:     skew,
		now:      time.Now,
	}
}

// EnsureFresh はチャネルの有効なクレデンシャルを返す。
// 猶予時間内に失効する場合はリフレッシュして永続化してから返す。
// inactiveチャネルはプロバイダーを呼ばずに即座に失敗する。
func (r *Refresher) EnsureFresh(ctx context.Context, ch *model.Channel) (*model.Credential, error) {
	if ch.Status != model.ChannelStatusActive {
		return nil, model.NewReconnectRequiredError()
	}

	if !ch.Credential.ExpiresWithin(r.skew, r.now()) {
		cred := ch.Credential
		return &cred, nil
	}

	// 同一チャネルの並行リフレッシュを1回の呼び出しに合流させる
	v, err, _ := r.group.Do(ch.ID, func() (any, error) {
		return r.refresh(ctx, ch.ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Credential), nil
}

// refresh はsingleflightのクリティカルセクション。
// 先行する呼び出しが既に更新している可能性があるため、チャネルを読み直す。
func (r *Refresher) refresh(ctx context.Context, channelID string) (*model.Credential, error) {
	// 呼び出し元のリクエストが中断されてもリフレッシュの結果は
	// 合流した他の待機者のために完遂する
	ctx = context.WithoutCancel(ctx)

	ch, err := r.channels.FindByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload channel: %w", err)
	}
	if ch == nil {
		return nil, model.NewChannelNotFoundError(channelID)
	}
	if ch.Status != model.ChannelStatusActive {
		return nil, model.NewReconnectRequiredError()
	}
	if !ch.Credential.ExpiresWithin(r.skew, r.now()) {
		cred := ch.Credential
		return &cred, nil
	}

	prevExpiresAt := ch.Credential.ExpiresAt

	tok, err := r.provider.Refresh(ctx, &ch.Credential)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			// 恒久的な拒否: チャネルを無効化し、再接続を要求する
			slog.Warn("refresh token rejected, deactivating channel",
				slog.String("channel_id", channelID),
				slog.String("provider", r.provider.Name()),
			)
			if updateErr := r.channels.UpdateStatus(ctx, channelID, model.ChannelStatusInactive); updateErr != nil {
				slog.Error("failed to deactivate channel after refresh rejection",
					slog.String("channel_id", channelID),
					slog.String("error", updateErr.Error()),
				)
			}
			return nil, model.NewReconnectRequiredError()
		}

		// 一時的な障害: チャネルの状態は変更しない
		slog.Warn("token refresh failed",
			slog.String("channel_id", channelID),
			slog.String("provider", r.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderUnavailableError()
	}

	cred := &model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		Scopes:       ch.Credential.Scopes,
	}
	// リフレッシュ応答でリフレッシュトークンが省略された場合は既存値を保持する
	if cred.RefreshToken == "" {
		cred.RefreshToken = ch.Credential.RefreshToken
	}

	// コミットはcompare-and-swap: 別プロセス（APIの遅延リフレッシュと
	// ワーカーのスイープ）が先にコミットしていた場合は自分の結果を破棄し、
	// 勝者が永続化したクレデンシャルを読み直して返す
	swapped, err := r.channels.UpdateCredential(ctx, channelID, cred, prevExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	if !swapped {
		slog.Info("concurrent refresh committed first, discarding result",
			slog.String("channel_id", channelID),
			slog.String("provider", r.provider.Name()),
		)
		current, err := r.channels.FindByID(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload channel after refresh conflict: %w", err)
		}
		if current == nil {
			return nil, model.NewChannelNotFoundError(channelID)
		}
		winner := current.Credential
		return &winner, nil
	}

	slog.Info("access token refreshed",
		slog.String("channel_id", channelID),
		slog.String("provider", r.provider.Name()),
	)

	return cred, nil
}
