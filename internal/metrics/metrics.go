// Package metrics exposes prometheus collectors for the kernel-time engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LaunchesTracked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_launches_tracked_total",
		Help: "The total number of kernel launches added to the in-flight table",
	})

	LaunchesRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_launches_retired_total",
		Help: "The total number of launches finalized into statistics",
	})

	LaunchesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_launches_cancelled_total",
		Help: "The total number of launches discarded before completion",
	})

	LaunchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_launches_dropped_total",
		Help: "The total number of launches dropped without statistics",
	}, []string{"reason"})

	InstancesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_instances_in_flight",
		Help: "Launches submitted but not yet confirmed complete",
	})

	CommandListsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "command_lists_registered",
		Help: "Command lists currently tracked by the registry",
	})

	TraceRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trace_records_dropped_total",
		Help: "Trace records lost because no buffer was available",
	})
)
