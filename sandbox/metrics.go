/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuefix_validations_total",
			Help: "Validation jobs by final status",
		},
		[]string{"status"},
	)

	validationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "issuefix_validation_duration_seconds",
			Help:    "Wall time of validation jobs, including workspace setup",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"status"},
	)

	cleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuefix_workspace_cleanups_total",
			Help: "Scheduled workspace removals by outcome",
		},
		[]string{"outcome"},
	)

	janitorRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "issuefix_janitor_removals_total",
			Help: "Expired workspaces removed by the janitor sweep",
		},
	)
)
