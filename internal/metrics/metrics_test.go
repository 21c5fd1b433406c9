package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- テスト ---

func TestCollector_AuthAttempts_CountedByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt(ResultSuccess)
	c.RecordAuthAttempt(ResultSuccess)
	c.RecordAuthAttempt(ResultFailure)

	if got := testutil.ToFloat64(c.authAttempts.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("auth_attempts{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.authAttempts.WithLabelValues(ResultFailure)); got != 1 {
		t.Errorf("auth_attempts{failure} = %v, want 1", got)
	}
}

func TestCollector_ProviderCalls_LabeledByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderCall("refresh", ResultSuccess)
	c.RecordProviderCall("refresh", ResultFailure)
	c.RecordProviderCall("watch", ResultSuccess)
	c.RecordProviderLatency("refresh", 200*time.Millisecond)

	if got := testutil.ToFloat64(c.providerCalls.WithLabelValues("refresh", ResultSuccess)); got != 1 {
		t.Errorf("provider_calls{refresh,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.providerCalls.WithLabelValues("watch", ResultSuccess)); got != 1 {
		t.Errorf("provider_calls{watch,success} = %v, want 1", got)
	}
}

func TestCollector_RenewalSweep_AccumulatesChannelCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRenewalSweep(3)
	c.RecordRenewalSweep(0)

	if got := testutil.ToFloat64(c.renewalSweeps); got != 2 {
		t.Errorf("renewal_sweeps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.renewalSweepedTotal); got != 3 {
		t.Errorf("renewal_sweeped_channels = %v, want 3", got)
	}
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTokenRefresh(ResultSuccess)
	c.RecordChannelDeactivated("refresh_rejected")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("metrics scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}

	for _, want := range []string{
		"opsdesk_token_refreshes_total",
		"opsdesk_channels_deactivated_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
