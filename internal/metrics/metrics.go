package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the check-in engine, exported on /metrics. Rejection reasons
// mirror the error taxonomy so dashboards can split business outcomes from
// system failures.
var (
	Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_checkins_total",
		Help: "Committed check-in records by method and status.",
	}, []string{"method", "status"})

	CheckinRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_checkin_rejections_total",
		Help: "Rejected check-in attempts by reason.",
	}, []string{"reason"})

	Overrides = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_overrides_total",
		Help: "Teacher status overrides applied.",
	})

	TokenRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_token_rotations_total",
		Help: "Check-in tokens issued, including rotations.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_sessions_closed_total",
		Help: "Sessions closed by trigger (explicit or sweep).",
	}, []string{"trigger"})
)
