package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/geo-attendance-api/pkg/jobs"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	storeOpDuration   *prometheus.HistogramVec
	storeOpErrors     *prometheus.CounterVec
	admissions        *prometheus.CounterVec
	admissionDuration prometheus.Observer
	distance          prometheus.Observer
	photoUploads      *prometheus.CounterVec
	subscribers       *prometheus.GaugeVec
	purgeJobs         *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	storeOpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_store_operation_duration_seconds",
		Help:    "Duration of realtime store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	storeOpErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_store_operation_errors_total",
		Help: "Realtime store operations that returned an error",
	}, []string{"operation"})

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_admissions_total",
		Help: "Attendance submissions by outcome",
	}, []string{"outcome"})

	admissionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_admission_duration_seconds",
		Help:    "End to end duration of attendance submissions",
		Buckets: prometheus.DefBuckets,
	})

	distance := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_distance_meters",
		Help:    "Distance between student and session anchor",
		Buckets: []float64{5, 10, 20, 30, 50, 100, 250, 1000, 10000},
	})

	photoUploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_photo_uploads_total",
		Help: "Photo upload attempts by result",
	}, []string{"result"})

	subscribers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_stream_subscribers",
		Help: "Open live subscriptions",
	}, []string{"stream"})

	purgeJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_photo_purge_total",
		Help: "Photo purge deletions by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHits, cacheMisses,
		storeOpDuration, storeOpErrors,
		admissions, admissionDuration, distance, photoUploads,
		subscribers, purgeJobs, goroutines,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		storeOpDuration:   storeOpDuration,
		storeOpErrors:     storeOpErrors,
		admissions:        admissions,
		admissionDuration: admissionDuration,
		distance:          distance,
		photoUploads:      photoUploads,
		subscribers:       subscribers,
		purgeJobs:         purgeJobs,
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveStoreOperation records realtime store timing.
func (m *MetricsService) ObserveStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpErrors.WithLabelValues(operation).Inc()
	}
}

// ObserveAdmission counts one submission decision.
func (m *MetricsService) ObserveAdmission(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	m.admissionDuration.Observe(duration.Seconds())
}

// ObserveDistance records a computed student distance.
func (m *MetricsService) ObserveDistance(meters float64) {
	if m == nil {
		return
	}
	m.distance.Observe(meters)
}

// ObservePhotoUpload counts a photo upload attempt.
func (m *MetricsService) ObservePhotoUpload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.photoUploads.WithLabelValues("ok").Inc()
		return
	}
	m.photoUploads.WithLabelValues("failed").Inc()
}

// TrackSubscriber adjusts the open subscription gauge for a stream.
func (m *MetricsService) TrackSubscriber(stream string, delta float64) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(stream).Add(delta)
}

// TrackJobQueue exposes the processed job counters of a background queue.
func (m *MetricsService) TrackJobQueue(queue string, stats func() jobs.Stats) error {
	if m == nil {
		return nil
	}
	results := map[string]func(jobs.Stats) uint64{
		"succeeded": func(s jobs.Stats) uint64 { return s.Succeeded },
		"failed":    func(s jobs.Stats) uint64 { return s.Failed },
		"retried":   func(s jobs.Stats) uint64 { return s.Retried },
	}
	for result, pick := range results {
		pick := pick
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "background_jobs_total",
			Help:        "Background jobs processed by queue and result",
			ConstLabels: prometheus.Labels{"queue": queue, "result": result},
		}, func() float64 {
			return float64(pick(stats()))
		})
		if err := m.registry.Register(collector); err != nil {
			return fmt.Errorf("register %s queue metrics: %w", queue, err)
		}
	}
	return nil
}

// ObservePhotoPurge counts photo deletions performed after a reset or by the
// retention sweep.
func (m *MetricsService) ObservePhotoPurge(deleted, failed int) {
	if m == nil {
		return
	}
	m.purgeJobs.WithLabelValues("deleted").Add(float64(deleted))
	m.purgeJobs.WithLabelValues("failed").Add(float64(failed))
}
