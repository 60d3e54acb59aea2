package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsink_submissions_total",
			Help: "Total number of submission requests by result",
		},
		[]string{"result"},
	)

	SubmissionBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "formsink_submission_bytes_total",
			Help: "Total bytes of accepted submission payloads",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsink_events_published_total",
			Help: "Total events published to the bus by type",
		},
		[]string{"event_type"},
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsink_delivery_attempts_total",
			Help: "Total delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsink_dead_letters_total",
			Help: "Total dead-lettered items by scope",
		},
		[]string{"scope"},
	)
)
