package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "stagesync"

// Metrics holds all StageSync metric instruments.
type Metrics struct {
	WebhooksReceived   metric.Int64Counter
	WebhooksRejected   metric.Int64Counter
	StagesAdvanced     metric.Int64Counter
	ApprovalsResolved  metric.Int64Counter
	RemoteCallFailures metric.Int64Counter
	SyncDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WebhooksReceived, err = meter.Int64Counter("stagesync.webhooks.received",
		metric.WithDescription("Number of webhook events received"))
	if err != nil {
		return nil, err
	}

	m.WebhooksRejected, err = meter.Int64Counter("stagesync.webhooks.rejected",
		metric.WithDescription("Number of webhook events rejected (bad signature or payload)"))
	if err != nil {
		return nil, err
	}

	m.StagesAdvanced, err = meter.Int64Counter("stagesync.stages.advanced",
		metric.WithDescription("Number of stage transitions executed"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("stagesync.approvals.resolved",
		metric.WithDescription("Number of approvals resolved with a client decision"))
	if err != nil {
		return nil, err
	}

	m.RemoteCallFailures, err = meter.Int64Counter("stagesync.remote.failures",
		metric.WithDescription("Number of failed remote backend calls"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("stagesync.sync.duration_seconds",
		metric.WithDescription("Duration of full sync passes in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
