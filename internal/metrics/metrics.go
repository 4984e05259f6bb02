package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesCollected counts file references appended to sessions.
	FilesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightbot_files_collected_total",
		Help: "Number of files appended to collection sessions.",
	})

	// Extractions counts orchestration runs by outcome.
	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightbot_extractions_total",
		Help: "Number of extraction runs by outcome.",
	}, []string{"outcome"})

	// BatchImages observes how many images one extraction call carried.
	BatchImages = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flightbot_batch_images",
		Help:    "Images per batched extraction call.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	// ExtractionDuration observes end-to-end orchestration latency.
	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flightbot_extraction_duration_seconds",
		Help:    "End-to-end duration of an extraction run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	// SessionsExpired counts sessions closed by the retention sweep.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightbot_sessions_expired_total",
		Help: "Sessions transitioned to expired by the retention sweep.",
	})
)
