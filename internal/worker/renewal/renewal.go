// Package renewal はチャネルのクレデンシャルとwatchをバックグラウンドで
// 失効前に更新するスイープワーカーを提供する。
package renewal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sugiyama/opsdesk/internal/metrics"
	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// CredentialRefresher はクレデンシャルの事前更新インターフェース。
type CredentialRefresher interface {
	EnsureFresh(ctx context.Context, ch *model.Channel) (*model.Credential, error)
}

// SubscriptionRenewer はwatchの更新インターフェース。
type SubscriptionRenewer interface {
	RenewIfNeeded(ctx context.Context, ch *model.Channel) error
}

// StateCleaner は期限切れOAuth stateの削除インターフェース。
// repository.OAuthStateRepositoryの部分集合として定義する。
type StateCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper は失効が近いチャネルを定期的に巡回し、
// トークンリフレッシュとwatch更新を並列で実行する。
// 複数レプリカやAPIプロセスの遅延リフレッシュと同一チャネルで競合した
// 場合、リフレッシュのコミットはcompare-and-swapで直列化され、
// 負けた側の結果は破棄される。
type Sweeper struct {
	channels       repository.ChannelRepository
	refresher      CredentialRefresher
	renewer        SubscriptionRenewer
	states         StateCleaner
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	skew           time.Duration
	maxConcurrency int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewSweeper(
	channels repository.ChannelRepository,
	refresher CredentialRefresher,
	renewer SubscriptionRenewer,
	states StateCleaner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	skew time.Duration,
	maxConcurrency int,
) *Sweeper {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Sweeper{
		channels:       channels,
		refresher:      refresher,
		renewer:        renewer,
		states:         states,
		collector:      collector,
		logger:         logger,
		skew:           skew,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("更新スイープワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("更新スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("更新スイープワーカーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("更新スイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は失効が近いチャネルを1回取得し、並列で更新を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 失効が近いチャネルを取得
	cutoff := time.Now().Add(s.skew)
	channels, err := s.channels.ListDueForRenewal(ctx, cutoff)
	if err != nil {
		return err
	}

	s.collector.RecordRenewalSweep(len(channels))

	if len(channels) > 0 {
		s.logger.Info("更新スイープを開始します",
			slog.Int("channel_count", len(channels)),
		)

		// semaphoreパターンで並列数を制御
		sem := make(chan struct{}, s.maxConcurrency)
		var wg sync.WaitGroup

		for _, ch := range channels {
			wg.Add(1)
			sem <- struct{}{} // semaphore取得（ブロック）

			go func(ch *model.Channel) {
				defer wg.Done()
				defer func() { <-sem }() // semaphore解放

				s.renewChannel(ctx, ch)
			}(ch)
		}

		wg.Wait()
	}

	// 期限切れOAuth stateの掃除も同じサイクルで行う
	if deleted, err := s.states.DeleteExpired(ctx); err != nil {
		s.logger.Error("期限切れstateの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	} else if deleted > 0 {
		s.logger.Info("期限切れstateを削除しました",
			slog.Int64("deleted_count", deleted),
		)
	}

	duration := time.Since(start)
	s.logger.Info("更新スイープが完了しました",
		slog.Int("channel_count", len(channels)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// renewChannel は1つのチャネルのクレデンシャルとwatchを更新する。
// リフレッシュが恒久的に拒否されたチャネルは既に無効化されており、
// watchの更新は行わない。
func (s *Sweeper) renewChannel(ctx context.Context, ch *model.Channel) {
	if _, err := s.refresher.EnsureFresh(ctx, ch); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeReconnectRequired {
			s.collector.RecordChannelDeactivated("refresh_rejected")
			s.logger.Warn("チャネルの認可が失効したため無効化されました",
				slog.String("channel_id", ch.ID),
				slog.String("identifier", ch.Identifier),
			)
			return
		}

		s.logger.Error("クレデンシャルの更新に失敗しました",
			slog.String("channel_id", ch.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.renewer.RenewIfNeeded(ctx, ch); err != nil {
		s.logger.Error("watchの更新に失敗しました",
			slog.String("channel_id", ch.ID),
			slog.String("error", err.Error()),
		)
	}
}
