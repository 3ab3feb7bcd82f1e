/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ItemsStarted counts decode stages started per channel and kind
	// (item, filler, ingest).
	ItemsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_items_started_total",
		Help: "Decode stages started by channel and kind",
	}, []string{"channel", "kind"})

	// ItemsSkipped counts items left before their scheduled end.
	ItemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_items_skipped_total",
		Help: "Items skipped by channel and reason",
	}, []string{"channel", "reason"})

	// ProcessRestarts counts supervised process restarts.
	ProcessRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_process_restarts_total",
		Help: "Process restarts by channel and stage",
	}, []string{"channel", "stage"})

	// ProcessCrashes counts abnormal process exits.
	ProcessCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_process_crashes_total",
		Help: "Abnormal process exits by channel and stage",
	}, []string{"channel", "stage"})

	// DriftSeconds is the shift of the item currently on air.
	DriftSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playout_drift_seconds",
		Help: "Wall clock minus playlist declared elapsed time",
	}, []string{"channel"})

	// Corrections counts drift corrections by kind.
	Corrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_drift_corrections_total",
		Help: "Drift corrections by channel and kind",
	}, []string{"channel", "kind"})

	// ChannelState is 1 for the current scheduler state of a channel.
	ChannelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playout_channel_state",
		Help: "Current scheduler state (1 = active)",
	}, []string{"channel", "state"})

	// PlaylistLoads counts day loads by source and result.
	PlaylistLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_playlist_loads_total",
		Help: "Playlist day loads by channel, source and result",
	}, []string{"channel", "source", "result"})

	// EventsForwarded counts bus events sent to external sinks.
	EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_events_forwarded_total",
		Help: "Events forwarded by sink and result",
	}, []string{"sink", "result"})

	// StatusMirrorWrites counts status snapshots written to redis.
	StatusMirrorWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_status_mirror_writes_total",
		Help: "Status mirror writes by result",
	}, []string{"result"})

	// DatabaseQueryDuration observes playlist and media cache queries.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_db_errors_total",
		Help: "Database errors by operation and type",
	}, []string{"operation", "error_type"})

	// DatabaseConnectionsActive is the number of open pool connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_db_connections_active",
		Help: "Open database connections",
	})

	// HTTPRequests counts operations endpoint requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_http_requests_total",
		Help: "Operations endpoint requests by route and status",
	}, []string{"route", "status"})

	// HTTPDuration observes operations endpoint latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_http_request_duration_seconds",
		Help:    "Operations endpoint request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// SetChannelState marks state as the only active state of a channel.
func SetChannelState(channel string, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ChannelState.WithLabelValues(channel, s).Set(v)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
