package lib

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the consensus core in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server *http.Server  // the http prometheus server
	config MetricsConfig // the configuration
	log    LoggerI       // the logger

	ConsensusMetrics // round scheduler telemetry
}

// ConsensusMetrics represents the telemetry of the round scheduler
type ConsensusMetrics struct {
	RoundNumber          prometheus.Gauge       // what's the committed round number?
	TermNumber           prometheus.Gauge       // what's the committed term number?
	LibHeight            prometheus.Gauge       // what's the last irreversible block height?
	MinerCount           prometheus.Gauge       // how many miners are scheduled in the committed round?
	TransitionsAccepted  *prometheus.CounterVec // committed transitions by kind
	TransitionsRejected  *prometheus.CounterVec // rejected transitions by kind
	EvilMinersDetected   prometheus.Counter     // how many miners were marked evil?
	TinyBlocksProduced   prometheus.Counter     // how many tiny blocks were committed?
	MissedSlotsObserved  prometheus.Counter     // how many missed time slots were recorded at round termination?
}

// NewMetrics() registers and returns the consensus telemetry, optionally serving it over http
func NewMetrics(config MetricsConfig, log LoggerI) *Metrics {
	m := &Metrics{
		config: config,
		log:    log,
		ConsensusMetrics: ConsensusMetrics{
			RoundNumber: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aedpos_round_number",
				Help: "Committed consensus round number",
			}),
			TermNumber: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aedpos_term_number",
				Help: "Committed consensus term number",
			}),
			LibHeight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aedpos_lib_height",
				Help: "Last irreversible block height",
			}),
			MinerCount: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aedpos_miner_count",
				Help: "Number of miners scheduled in the committed round",
			}),
			TransitionsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aedpos_transitions_accepted",
				Help: "Committed consensus transitions by kind",
			}, []string{"kind"}),
			TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aedpos_transitions_rejected",
				Help: "Rejected consensus transitions by kind",
			}, []string{"kind"}),
			EvilMinersDetected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aedpos_evil_miners_detected",
				Help: "Total miners marked evil by the detector",
			}),
			TinyBlocksProduced: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aedpos_tiny_blocks_produced",
				Help: "Total tiny blocks committed",
			}),
			MissedSlotsObserved: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aedpos_missed_slots_observed",
				Help: "Total missed time slots recorded at round termination",
			}),
		},
	}
	if config.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(metricsPattern, promhttp.Handler())
		m.server = &http.Server{Addr: config.PrometheusAddress, Handler: mux}
		go m.start()
	}
	return m
}

// UpdateRound() refreshes the round level gauges from a committed round snapshot
func (m *Metrics) UpdateRound(roundNumber, termNumber, libHeight uint64, minerCount int) {
	if m == nil {
		return
	}
	m.RoundNumber.Set(float64(roundNumber))
	m.TermNumber.Set(float64(termNumber))
	m.LibHeight.Set(float64(libHeight))
	m.MinerCount.Set(float64(minerCount))
}

// Accepted() increments the accepted transition counter for a kind
func (m *Metrics) Accepted(kind string) {
	if m == nil {
		return
	}
	m.TransitionsAccepted.WithLabelValues(kind).Inc()
}

// Rejected() increments the rejected transition counter for a kind
func (m *Metrics) Rejected(kind string) {
	if m == nil {
		return
	}
	m.TransitionsRejected.WithLabelValues(kind).Inc()
}

// EvilDetected() increments the evil miner counter
func (m *Metrics) EvilDetected() {
	if m == nil {
		return
	}
	m.EvilMinersDetected.Inc()
}

// TinyBlock() increments the committed tiny block counter
func (m *Metrics) TinyBlock() {
	if m == nil {
		return
	}
	m.TinyBlocksProduced.Inc()
}

// MissedSlots() adds the missed slot count observed at a round termination
func (m *Metrics) MissedSlots(count uint64) {
	if m == nil {
		return
	}
	m.MissedSlotsObserved.Add(float64(count))
}

// start() serves the /metrics endpoint until Stop is called
func (m *Metrics) start() {
	m.log.Infof("Metrics server starting on %s", m.config.PrometheusAddress)
	if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.log.Errorf("Metrics server failed with err: %s", err.Error())
	}
}

// Stop() gracefully shuts down the metrics server
func (m *Metrics) Stop() {
	if m == nil || m.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.log.Errorf("Metrics server shutdown failed with err: %s", err.Error())
	}
}
