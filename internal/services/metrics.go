package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No user or generation labels: both are unbounded.
var (
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyrewards_sessions_started_total",
		Help: "Total number of study sessions started, by duration in minutes.",
	}, []string{"duration"})

	sessionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyrewards_sessions_cancelled_total",
		Help: "Total number of study sessions cancelled before their deadline.",
	})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyrewards_settlements_total",
		Help: "Total number of settlement runs, by result.",
	}, []string{"result"})

	registrationRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyrewards_registration_repairs_total",
		Help: "Total number of ledger re-registration attempts, by result.",
	}, []string{"result"})

	badgeMintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyrewards_badge_mints_total",
		Help: "Total number of badge evaluations that reached the ledger, by tier and result.",
	}, []string{"tier", "result"})

	armedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyrewards_armed_sessions",
		Help: "Current number of sessions with armed timers in this process.",
	})
)

// settlementResult maps a settlement error to a bounded label value.
func settlementResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInsufficientOperatingFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRegistrationUnrecoverable):
		return "registration_unrecoverable"
	case errors.Is(err, ErrSettlementFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
