package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of verified payment events by type and ledger outcome",
	}, []string{"type", "outcome"})

	WebhookSignatureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Total number of payment events rejected by signature verification",
	})

	PipelineFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_failures_total",
		Help: "Total number of absorbed pipeline failures by stage",
	}, []string{"stage"})

	PipelineStageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_latency_seconds",
		Help:    "Latency of individual pipeline stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of paid transitions applied to orders",
	})

	LineItemSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_line_item_source_total",
		Help: "Which fallback tier produced invoice line items",
	}, []string{"source"})

	InvoicesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_rendered_total",
		Help: "Total number of invoice documents rendered",
	})

	InvoiceHiddenRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoice_hidden_rows_total",
		Help: "Total number of line item rows dropped by the overflow guard",
	})

	InvoiceDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_deliveries_total",
		Help: "Invoice delivery attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// StageTimer observes into PipelineStageLatency for one stage.
func StageTimer(stage string) *prometheus.Timer {
	return prometheus.NewTimer(PipelineStageLatency.WithLabelValues(stage))
}
