package integration

import (
	"context"
	"errors"
	"time"

	"github.com/sugiyama/opsdesk/internal/metrics"
	"github.com/sugiyama/opsdesk/internal/model"
)

// InstrumentedProvider はMailProviderの呼び出し結果とレイテンシを
// メトリクスとして記録するデコレーター。
type InstrumentedProvider struct {
	inner     MailProvider
	collector metrics.MetricsCollector
}

// NewInstrumentedProvider はメトリクス記録付きのMailProviderを返す。
func NewInstrumentedProvider(inner MailProvider, collector metrics.MetricsCollector) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, collector: collector}
}

func (p *InstrumentedProvider) Name() string {
	return p.inner.Name()
}

func (p *InstrumentedProvider) AuthCodeURL(state string) string {
	return p.inner.AuthCodeURL(state)
}

func (p *InstrumentedProvider) ExchangeCode(ctx context.Context, code string) (*ProviderToken, error) {
	start := time.Now()
	tok, err := p.inner.ExchangeCode(ctx, code)
	p.record("exchange", start, err)
	return tok, err
}

func (p *InstrumentedProvider) FetchAddress(ctx context.Context, accessToken string) (string, error) {
	start := time.Now()
	address, err := p.inner.FetchAddress(ctx, accessToken)
	p.record("fetch_address", start, err)
	return address, err
}

func (p *InstrumentedProvider) Refresh(ctx context.Context, cred *model.Credential) (*ProviderToken, error) {
	start := time.Now()
	tok, err := p.inner.Refresh(ctx, cred)
	p.record("refresh", start, err)

	switch {
	case err == nil:
		p.collector.RecordTokenRefresh(metrics.ResultSuccess)
	case isRejected(err):
		p.collector.RecordTokenRefresh(metrics.ResultRejected)
	default:
		p.collector.RecordTokenRefresh(metrics.ResultFailure)
	}
	return tok, err
}

func (p *InstrumentedProvider) Watch(ctx context.Context, accessToken string) (*WatchResult, error) {
	start := time.Now()
	result, err := p.inner.Watch(ctx, accessToken)
	p.record("watch", start, err)
	return result, err
}

func (p *InstrumentedProvider) record(operation string, start time.Time, err error) {
	p.collector.RecordProviderLatency(operation, time.Since(start))
	if err != nil {
		p.collector.RecordProviderCall(operation, metrics.ResultFailure)
		return
	}
	p.collector.RecordProviderCall(operation, metrics.ResultSuccess)
}

func isRejected(err error) bool {
	return errors.Is(err, ErrRefreshRejected)
}

// compile-time interface check
var _ MailProvider = (*InstrumentedProvider)(nil)
