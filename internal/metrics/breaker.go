// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker names are "<registry>:<host>", so label cardinality follows the
// number of embed hosts seen.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "movieflix_breaker_state",
		Help: "Per-host breaker state, one series per state set to 1 while active",
	}, []string{"breaker", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_breaker_trips_total",
		Help: "Breaker transitions to open by cause",
	}, []string{"breaker", "cause"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetBreakerState marks state active for breaker and clears the others.
func SetBreakerState(breaker, state string) {
	for _, s := range breakerStates {
		g := breakerState.WithLabelValues(breaker, s)
		if s == state {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
}

func RecordBreakerTrip(breaker, cause string) {
	breakerTrips.WithLabelValues(breaker, cause).Inc()
}
