package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dispatch and scheduler collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RecipientsProcessed *prometheus.CounterVec
	CampaignRuns        *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	GatewayLatency      prometheus.Histogram
	SchedulerTicks      *prometheus.CounterVec
	RunsQueued          prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RecipientsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_recipients_processed_total",
				Help: "Recipients moved out of pending, by outcome",
			},
			[]string{"outcome"},
		),
		CampaignRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_runs_total",
				Help: "Dispatcher runs by result",
			},
			[]string{"result"},
		),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "campaign_run_duration_seconds",
			Help:    "Wall time of one dispatcher run",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		GatewayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_send_duration_seconds",
			Help:    "Latency of a single provider send",
			Buckets: prometheus.DefBuckets,
		}),
		SchedulerTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_scheduler_ticks_total",
				Help: "Scheduler loop ticks by result",
			},
			[]string{"result"},
		),
		RunsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runs_queued_total",
			Help: "Run requests handed to the queue by Launch",
		}),
	}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
