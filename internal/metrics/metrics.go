// Package metrics provides Prometheus metrics for the prediction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine and transport metrics on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsTotal   *prometheus.CounterVec
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	PointsAwarded      prometheus.Counter
	LeaderboardReads   *prometheus.CounterVec
	CommandsTotal      *prometheus.CounterVec
	ExportRuns         *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_predictions_total",
				Help: "Prediction submissions by outcome",
			},
			[]string{"outcome"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_settlements_total",
				Help: "Settlement passes by status",
			},
			[]string{"status"},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predictor_settlement_duration_seconds",
				Help:    "Duration of one settlement transaction",
				Buckets: prometheus.DefBuckets,
			},
		),
		PointsAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predictor_points_awarded_total",
				Help: "Points written by settlement passes, including re-settlements",
			},
		),
		LeaderboardReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_leaderboard_reads_total",
				Help: "Leaderboard reads by source (snapshot or store)",
			},
			[]string{"source"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_commands_total",
				Help: "Kafka commands processed by type and status",
			},
			[]string{"type", "status"},
		),
		ExportRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_export_runs_total",
				Help: "Flat-file export runs by status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.PredictionsTotal,
		m.SettlementsTotal,
		m.SettlementDuration,
		m.PointsAwarded,
		m.LeaderboardReads,
		m.CommandsTotal,
		m.ExportRuns,
	)
	return m
}

// Registry returns the registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordPrediction(outcome string) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSettlement(status string, durationSec float64, points int) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(status).Inc()
	m.SettlementDuration.Observe(durationSec)
	if points > 0 {
		m.PointsAwarded.Add(float64(points))
	}
}

func (m *Metrics) RecordLeaderboardRead(source string) {
	if m == nil {
		return
	}
	m.LeaderboardReads.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordCommand(commandType, status string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(commandType, status).Inc()
}

func (m *Metrics) RecordExport(status string) {
	if m == nil {
		return
	}
	m.ExportRuns.WithLabelValues(status).Inc()
}
