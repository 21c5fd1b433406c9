package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
)

func activeChannel(expiresAt time.Time) *model.Channel {
	return &model.Channel{
		ID:             "ch-1",
		OrganizationID: "org-1",
		Type:           model.ChannelTypeEmail,
		Status:         model.ChannelStatusActive,
		Credential: model.Credential{
			AccessToken:  "old-access",
			RefreshToken: "refresh-1",
			ExpiresAt:    expiresAt,
			Scopes:       []string{"scope-a"},
		},
	}
}

// --- テスト ---

func TestEnsureFresh_StillValid_NoProviderCall(t *testing.T) {
	var refreshCalls int32
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			return nil, errors.New("must not be called")
		},
	}
	r := NewRefresher(provider, &mockChannelRepo{}, 5*time.Minute)

	ch := activeChannel(time.Now().Add(time.Hour))
	cred, err := r.EnsureFresh(context.Background(), ch)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if cred.AccessToken != "old-access" {
		t.Errorf("AccessToken = %q, want the existing token", cred.AccessToken)
	}
	if atomic.LoadInt32(&refreshCalls) != 0 {
		t.Error("provider must not be called for a fresh credential")
	}
}

func TestEnsureFresh_InactiveChannel_FailsFast(t *testing.T) {
	var refreshCalls int32
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			return nil, errors.New("must not be called")
		},
	}
	r := NewRefresher(provider, &mockChannelRepo{}, 5*time.Minute)

	ch := activeChannel(time.Now().Add(-time.Hour))
	ch.Status = model.ChannelStatusInactive

	_, err := r.EnsureFresh(context.Background(), ch)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeReconnectRequired {
		t.Errorf("expected RECONNECT_REQUIRED, got %v", err)
	}
	if atomic.LoadInt32(&refreshCalls) != 0 {
		t.Error("provider must not be called for an inactive channel")
	}
}

func TestEnsureFresh_Expired_RefreshesAndPersists(t *testing.T) {
	ch := activeChannel(time.Now().Add(time.Minute)) // skew 5分より短い残り
	newExpiry := time.Now().Add(time.Hour)
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			return &ProviderToken{AccessToken: "new-access", RefreshToken: "refresh-2", ExpiresAt: newExpiry}, nil
		},
	}
	var persisted *model.Credential
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			c := *ch
			return &c, nil
		},
		updateCredentialFn: func(_ context.Context, _ string, cred *model.Credential, _ time.Time) (bool, error) {
			persisted = cred
			return true, nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	cred, err := r.EnsureFresh(context.Background(), ch)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if cred.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want the refreshed token", cred.AccessToken)
	}
	if cred.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken = %q, want the rotated token", cred.RefreshToken)
	}
	if persisted == nil || persisted.AccessToken != "new-access" {
		t.Error("refreshed credential must be persisted before being returned")
	}
	if len(cred.Scopes) != 1 || cred.Scopes[0] != "scope-a" {
		t.Errorf("Scopes = %v, want the original scopes preserved", cred.Scopes)
	}
}

// リフレッシュ応答でリフレッシュトークンが省略された場合に既存値が保持されること
func TestEnsureFresh_RefreshOmitsToken_RetainsPrevious(t *testing.T) {
	ch := activeChannel(time.Now().Add(-time.Minute))
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			return &ProviderToken{AccessToken: "new-access", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			c := *ch
			return &c, nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	cred, err := r.EnsureFresh(context.Background(), ch)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if cred.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want the retained original", cred.RefreshToken)
	}
}

// 恒久的な拒否でチャネルが無効化され、RECONNECT_REQUIREDとなること
func TestEnsureFresh_RefreshRejected_DeactivatesChannel(t *testing.T) {
	ch := activeChannel(time.Now().Add(-time.Minute))
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			return nil, ErrRefreshRejected
		},
	}
	var updatedStatus model.ChannelStatus
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			c := *ch
			return &c, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status model.ChannelStatus) error {
			updatedStatus = status
			return nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	_, err := r.EnsureFresh(context.Background(), ch)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeReconnectRequired {
		t.Errorf("expected RECONNECT_REQUIRED, got %v", err)
	}
	if updatedStatus != model.ChannelStatusInactive {
		t.Errorf("status = %q, want inactive", updatedStatus)
	}
}

// 一時的な障害ではチャネルの状態が変更されないこと
func TestEnsureFresh_TransientFailure_ChannelUntouched(t *testing.T) {
	ch := activeChannel(time.Now().Add(-time.Minute))
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			return nil, ErrProviderUnavailable
		},
	}
	statusUpdated := false
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			c := *ch
			return &c, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _ model.ChannelStatus) error {
			statusUpdated = true
			return nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	_, err := r.EnsureFresh(context.Background(), ch)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("expected PROVIDER_UNAVAILABLE, got %v", err)
	}
	if statusUpdated {
		t.Error("channel status must not change on a transient failure")
	}
}

// 同一チャネルへの並行リクエストでプロバイダー呼び出しが1回に合流すること
func TestEnsureFresh_ConcurrentRequests_SingleProviderCall(t *testing.T) {
	ch := activeChannel(time.Now().Add(-time.Minute))
	var refreshCalls int32
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			time.Sleep(50 * time.Millisecond) // 合流の時間窓を作る
			return &ProviderToken{AccessToken: "new-access", RefreshToken: "refresh-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			c := *ch
			return &c, nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	const workers = 20
	var wg sync.WaitGroup
	results := make([]*model.Credential, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.EnsureFresh(context.Background(), ch)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Errorf("provider Refresh called %d times, want 1", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: EnsureFresh failed: %v", i, errs[i])
		}
		if results[i].AccessToken != "new-access" {
			t.Errorf("worker %d: AccessToken = %q, want the refreshed token", i, results[i].AccessToken)
		}
	}
}

// 別プロセスが先にコミットしていた場合、自分のリフレッシュ結果を破棄して
// 勝者が永続化したクレデンシャルを返すこと
func TestEnsureFresh_CommitConflict_DiscardsOwnResult(t *testing.T) {
	stale := activeChannel(time.Now().Add(-time.Minute))
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			return &ProviderToken{AccessToken: "loser-access", RefreshToken: "loser-refresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	reloads := 0
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			reloads++
			if reloads == 1 {
				// singleflight内の初回読み直しではまだ失効間際
				c := *stale
				return &c, nil
			}
			// コミット競合後の読み直し: 別プロセスの結果が格納済み
			winner := activeChannel(time.Now().Add(time.Hour))
			winner.Credential.AccessToken = "winner-access"
			return winner, nil
		},
		updateCredentialFn: func(_ context.Context, _ string, _ *model.Credential, _ time.Time) (bool, error) {
			return false, nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	cred, err := r.EnsureFresh(context.Background(), stale)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if cred.AccessToken != "winner-access" {
		t.Errorf("AccessToken = %q, want the concurrently committed credential", cred.AccessToken)
	}
}

// 先行する呼び出しが更新済みなら再読込で気づき、プロバイダーを呼ばないこと
func TestEnsureFresh_AlreadyRefreshedByOther_SkipsProviderCall(t *testing.T) {
	stale := activeChannel(time.Now().Add(-time.Minute))
	var refreshCalls int32
	provider := &mockProvider{
		refreshFn: func(_ context.Context, _ *model.Credential) (*ProviderToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			return nil, errors.New("must not be called")
		},
	}
	channels := &mockChannelRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Channel, error) {
			// DB上では既に別の呼び出しが更新済み
			fresh := activeChannel(time.Now().Add(time.Hour))
			fresh.Credential.AccessToken = "already-refreshed"
			return fresh, nil
		},
	}
	r := NewRefresher(provider, channels, 5*time.Minute)

	cred, err := r.EnsureFresh(context.Background(), stale)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if cred.AccessToken != "already-refreshed" {
		t.Errorf("AccessToken = %q, want the value refreshed by the other caller", cred.AccessToken)
	}
	if atomic.LoadInt32(&refreshCalls) != 0 {
		t.Error("provider must not be called when the credential is already fresh")
	}
}
