package metrics

import "media-converter/internal/remote"

// gatewayObserver implements remote.Observer using the Prometheus metrics
// declared in this package.
type gatewayObserver struct{}

// NewGatewayObserver creates an observer that records remote command metrics
// into the counters and histograms declared in metrics.go.
func NewGatewayObserver() remote.Observer {
	return &gatewayObserver{}
}

func (o *gatewayObserver) ObserveCall(operation string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	GatewayCallsTotal.WithLabelValues(operation, status).Inc()
	GatewayCallDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func (o *gatewayObserver) ObserveRetryAttempt(operation string) {
	GatewayRetryAttempts.WithLabelValues(operation).Inc()
}

func (o *gatewayObserver) ObserveRetrySuccess(operation string) {
	GatewayRetrySuccess.WithLabelValues(operation).Inc()
}

func (o *gatewayObserver) ObserveRetryFailure(operation string) {
	GatewayRetryFailures.WithLabelValues(operation).Inc()
}
