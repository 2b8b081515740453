// Package metrics exposes Prometheus counters for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntriesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissioni_entries_recorded_total",
		Help: "Commissions accepted into the ledger.",
	})

	EntriesUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissioni_entries_undone_total",
		Help: "Commissions removed through the undo window.",
	})

	PayoutsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissioni_payouts_recorded_total",
		Help: "Partner payouts recorded.",
	})

	MonthsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissioni_months_closed_total",
		Help: "Month close operations, including catch-up replays.",
	})

	SafetyWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissioni_safety_warnings_total",
		Help: "Advisory safety warnings attached to responses.",
	}, []string{"kind"})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissioni_notify_failures_total",
		Help: "Notifications that could not be published.",
	})

	CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissioni_commands_handled_total",
		Help: "Chat commands processed, by command name.",
	}, []string{"command"})
)
