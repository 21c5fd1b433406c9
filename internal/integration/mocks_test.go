package integration

import (
	"context"
	"sync"
	"time"

	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// --- モック定義 ---

type mockChannelRepo struct {
	mu sync.Mutex

	findByIDFn           func(ctx context.Context, id string) (*model.Channel, error)
	findByNaturalKeyFn   func(ctx context.Context, orgID string, channelType model.ChannelType, identifier string) (*model.Channel, error)
	upsertFn             func(ctx context.Context, ch *model.Channel) error
	updateCredentialFn   func(ctx context.Context, channelID string, cred *model.Credential, prevExpiresAt time.Time) (bool, error)
	updateSubscriptionFn func(ctx context.Context, channelID string, sub *model.Subscription) error
	updateStatusFn       func(ctx context.Context, channelID string, status model.ChannelStatus) error
	listDueForRenewalFn  func(ctx context.Context, cutoff time.Time) ([]*model.Channel, error)
}

func (m *mockChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockChannelRepo) FindByNaturalKey(ctx context.Context, orgID string, channelType model.ChannelType, identifier string) (*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByNaturalKeyFn != nil {
		return m.findByNaturalKeyFn(ctx, orgID, channelType, identifier)
	}
	return nil, nil
}

func (m *mockChannelRepo) Upsert(ctx context.Context, ch *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(ctx, ch)
	}
	return nil
}

func (m *mockChannelRepo) UpdateCredential(ctx context.Context, channelID string, cred *model.Credential, prevExpiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateCredentialFn != nil {
		return m.updateCredentialFn(ctx, channelID, cred, prevExpiresAt)
	}
	return true, nil
}

func (m *mockChannelRepo) UpdateSubscription(ctx context.Context, channelID string, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateSubscriptionFn != nil {
		return m.updateSubscriptionFn(ctx, channelID, sub)
	}
	return nil
}

func (m *mockChannelRepo) UpdateStatus(ctx context.Context, channelID string, status model.ChannelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, channelID, status)
	}
	return nil
}

func (m *mockChannelRepo) ListDueForRenewal(ctx context.Context, cutoff time.Time) ([]*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDueForRenewalFn != nil {
		return m.listDueForRenewalFn(ctx, cutoff)
	}
	return nil, nil
}

type mockStateRepo struct {
	createFn  func(ctx context.Context, state *model.OAuthState) error
	consumeFn func(ctx context.Context, state string) (*model.OAuthState, error)
}

func (m *mockStateRepo) Create(ctx context.Context, state *model.OAuthState) error {
	if m.createFn != nil {
		return m.createFn(ctx, state)
	}
	return nil
}

func (m *mockStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, state)
	}
	return nil, nil
}

func (m *mockStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type mockProvider struct {
	nameFn         func() string
	authCodeURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*ProviderToken, error)
	fetchAddressFn func(ctx context.Context, accessToken string) (string, error)
	refreshFn      func(ctx context.Context, cred *model.Credential) (*ProviderToken, error)
	watchFn        func(ctx context.Context, accessToken string) (*WatchResult, error)
}

func (m *mockProvider) Name() string {
	if m.nameFn != nil {
		return m.nameFn()
	}
	return "gmail"
}

func (m *mockProvider) AuthCodeURL(state string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state)
	}
	return "https://provider.example.com/auth?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*ProviderToken, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return &ProviderToken{AccessToken: "access-token"}, nil
}

func (m *mockProvider) FetchAddress(ctx context.Context, accessToken string) (string, error) {
	if m.fetchAddressFn != nil {
		return m.fetchAddressFn(ctx, accessToken)
	}
	return "inbox@example.com", nil
}

func (m *mockProvider) Refresh(ctx context.Context, cred *model.Credential) (*ProviderToken, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, cred)
	}
	return &ProviderToken{AccessToken: "refreshed-token"}, nil
}

func (m *mockProvider) Watch(ctx context.Context, accessToken string) (*WatchResult, error) {
	if m.watchFn != nil {
		return m.watchFn(ctx, accessToken)
	}
	return &WatchResult{ExpiresAt: time.Now().Add(7 * 24 * time.Hour), Cursor: "100"}, nil
}

// --- compile-time interface checks ---
var _ repository.ChannelRepository = (*mockChannelRepo)(nil)
var _ repository.OAuthStateRepository = (*mockStateRepo)(nil)
var _ MailProvider = (*mockProvider)(nil)
