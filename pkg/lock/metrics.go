package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphfed_multilock_retries_total",
		Help: "Composable lock attempts rolled back because a member was busy",
	})

	lockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphfed_multilock_timeouts_total",
		Help: "Timed composable lock acquisitions that gave up at the deadline",
	})

	lockInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphfed_multilock_interrupts_total",
		Help: "Context-bound composable lock acquisitions cancelled before completion",
	})
)
