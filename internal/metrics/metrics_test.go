package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"HTTPRequestDuration", HTTPRequestDuration},
		{"HTTPRequestsInFlight", HTTPRequestsInFlight},
		{"DBQueryTotal", DBQueryTotal},
		{"DBQueryDuration", DBQueryDuration},
		{"DBTransactionDuration", DBTransactionDuration},
		{"DBConnectionsOpen", DBConnectionsOpen},
		{"DBSizeBytes", DBSizeBytes},
		{"ConversionJobsTotal", ConversionJobsTotal},
		{"ConversionJobDuration", ConversionJobDuration},
		{"ConversionJobsInProgress", ConversionJobsInProgress},
		{"ConversionProbeFallbacks", ConversionProbeFallbacks},
		{"ConversionReconciledTotal", ConversionReconciledTotal},
		{"GatewayCallsTotal", GatewayCallsTotal},
		{"GatewayCallDuration", GatewayCallDuration},
		{"GatewayRetryAttempts", GatewayRetryAttempts},
		{"GatewayRetrySuccess", GatewayRetrySuccess},
		{"GatewayRetryFailures", GatewayRetryFailures},
		{"QuotaRejectionsTotal", QuotaRejectionsTotal},
		{"QuotaCommittedMB", QuotaCommittedMB},
		{"QuotaReleasedMB", QuotaReleasedMB},
		{"UploadsTotal", UploadsTotal},
		{"AssetsTotal", AssetsTotal},
		{"StorageMB", StorageMB},
		{"EventsPublishedTotal", EventsPublishedTotal},
		{"AppInfo", AppInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestInitializeMetrics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("InitializeMetrics() panicked: %v", r)
		}
	}()

	InitializeMetrics()

	if n := testutil.CollectAndCount(GatewayCallsTotal); n < 10 {
		t.Errorf("GatewayCallsTotal has %d series after init, want at least 10", n)
	}
}

func TestSetAppInfo(t *testing.T) {
	SetAppInfo("1.2.3", "abc123", "go1.25")

	if v := testutil.ToFloat64(AppInfo.WithLabelValues("1.2.3", "abc123", "go1.25")); v != 1 {
		t.Errorf("AppInfo = %v, want 1", v)
	}
}

func TestGatewayObserver(t *testing.T) {
	o := NewGatewayObserver()

	before := testutil.ToFloat64(GatewayCallsTotal.WithLabelValues("upload", "error"))
	o.ObserveCall("upload", 0.5, errors.New("broken pipe"))
	if got := testutil.ToFloat64(GatewayCallsTotal.WithLabelValues("upload", "error")); got != before+1 {
		t.Errorf("upload errors = %v, want %v", got, before+1)
	}

	attempts := testutil.ToFloat64(GatewayRetryAttempts.WithLabelValues("stat"))
	o.ObserveRetryAttempt("stat")
	o.ObserveRetrySuccess("stat")
	o.ObserveRetryFailure("stat")
	if got := testutil.ToFloat64(GatewayRetryAttempts.WithLabelValues("stat")); got != attempts+1 {
		t.Errorf("retry attempts = %v, want %v", got, attempts+1)
	}
}
