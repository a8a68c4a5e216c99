// Package metrics exposes the engine's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts scan requests by engine outcome (created, toggled,
	// not_found, store_error, low_confidence, no_detection, error).
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chamada_scans_total",
		Help: "Webcam scan requests by outcome.",
	}, []string{"outcome"})

	// Enrollments counts enrollment attempts by result.
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chamada_enrollments_total",
		Help: "Enrollment attempts by result.",
	}, []string{"result"})

	// NotificationsSent counts absence e-mails successfully handed to the
	// outbound relay.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chamada_notifications_sent_total",
		Help: "Absence notifications successfully sent.",
	})
)
