package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

func init() {
	prometheus.MustRegister(
		conversionsTotal,
		conversionDuration,
		uploadsTotal,
		uploadBytes,
		cleanupRemovedTotal,
		documentsServedTotal,
	)
}

var (
	conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_conversions_total",
			Help: "Slide deck conversions by outcome.",
		},
		[]string{"outcome"},
	)

	conversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deckview_conversion_duration_seconds",
			Help:    "Time spent converting a deck, by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"outcome"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_uploads_total",
			Help: "Upload attempts by result (accepted, rejected, error).",
		},
		[]string{"result"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deckview_upload_bytes",
			Help:    "Size of accepted uploads.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 8),
		},
	)

	cleanupRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deckview_cleanup_removed_files_total",
			Help: "Files removed by cleanup.",
		},
	)

	documentsServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_documents_served_total",
			Help: "PDF download requests by result (ok, not_found).",
		},
		[]string{"result"},
	)
)

// ObserveConversion records one finished conversion.
func ObserveConversion(outcome string, d time.Duration) {
	conversionsTotal.WithLabelValues(outcome).Inc()
	conversionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncUpload records an upload attempt.
func IncUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}

// ObserveUploadSize records the size of an accepted upload.
func ObserveUploadSize(n int64) {
	uploadBytes.Observe(float64(n))
}

// AddCleanupRemoved records files removed by cleanup.
func AddCleanupRemoved(n int) {
	cleanupRemovedTotal.Add(float64(n))
}

// IncDocumentServed records a PDF request.
func IncDocumentServed(result string) {
	documentsServedTotal.WithLabelValues(result).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
