package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "strava",
		Name:      "syncs_total",
		Help:      "Activity sync attempts grouped by outcome.",
	}, []string{"outcome"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fuelsync",
		Subsystem: "strava",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of one sync, from token lookup to upsert.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	activitiesSyncedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "strava",
		Name:      "activities_synced_total",
		Help:      "Activity rows written by sync.",
	})

	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "strava",
		Name:      "token_refreshes_total",
		Help:      "Access token refreshes grouped by outcome.",
	}, []string{"outcome"})

	connectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "strava",
		Name:      "connection_changes_total",
		Help:      "Provider connection transitions (connected, disconnected, revoked).",
	}, []string{"change"})

	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fuelsync",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity batch persisted to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(syncCounter, syncDuration, activitiesSyncedCounter, tokenRefreshCounter, connectionCounter, activityPersistGauge)
}

// RecordSync counts a sync attempt and observes its duration.
func RecordSync(outcome string, started time.Time) {
	syncCounter.WithLabelValues(outcome).Inc()
	if !started.IsZero() {
		syncDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordActivitiesSynced adds n written rows.
func RecordActivitiesSynced(n int) {
	if n <= 0 {
		return
	}
	activitiesSyncedCounter.Add(float64(n))
}

// RecordTokenRefresh counts a refresh attempt by outcome.
func RecordTokenRefresh(outcome string) {
	tokenRefreshCounter.WithLabelValues(outcome).Inc()
}

// RecordConnectionChange counts a connection transition.
func RecordConnectionChange(change string) {
	connectionCounter.WithLabelValues(change).Inc()
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// SyncCount exposes the counter for a given outcome, for tests.
func SyncCount(outcome string) prometheus.Counter {
	return syncCounter.WithLabelValues(outcome)
}

// TokenRefreshCount exposes the refresh counter for a given outcome, for tests.
func TokenRefreshCount(outcome string) prometheus.Counter {
	return tokenRefreshCounter.WithLabelValues(outcome)
}
