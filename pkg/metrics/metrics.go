// Package metrics exposes the Prometheus collectors of the certificate service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certificate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	certificatesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Total number of certificates issued",
		},
	)

	certificatesRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_revoked_total",
			Help: "Total number of certificates revoked",
		},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_verifications_total",
			Help: "Total number of verification attempts",
		},
		[]string{"result"}, // valid, invalid, unknown
	)

	codeCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_code_collisions_total",
			Help: "Verification codes regenerated after a unique key collision",
		},
	)

	pdfRenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certificate_pdf_render_duration_seconds",
			Help:    "PDF generation duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"mode"}, // preview, issue
	)

	templatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certificate_templates",
			Help: "Number of certificate templates",
		},
	)

	issuesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certificate_issues",
			Help: "Number of issued certificates on record",
		},
	)

	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certificate_database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certificate_database_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

var once sync.Once

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(certificatesIssuedTotal)
	prometheus.MustRegister(certificatesRevokedTotal)
	prometheus.MustRegister(verificationsTotal)
	prometheus.MustRegister(codeCollisionsTotal)
	prometheus.MustRegister(pdfRenderDuration)
	prometheus.MustRegister(templatesTotal)
	prometheus.MustRegister(issuesTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)

	once.Do(func() {
		// already registered by another package in some binaries
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIssued counts an issued certificate
func RecordIssued() {
	certificatesIssuedTotal.Inc()
}

// RecordRevoked counts a revoked certificate
func RecordRevoked() {
	certificatesRevokedTotal.Inc()
}

// Verification results
const (
	VerificationValid   = "valid"
	VerificationInvalid = "invalid"
	VerificationUnknown = "unknown"
)

// RecordVerification counts a verification attempt by result
func RecordVerification(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
}

// RecordCodeCollision counts a regenerated verification code
func RecordCodeCollision() {
	codeCollisionsTotal.Inc()
}

// ObservePDFRender records how long a PDF took to render
func ObservePDFRender(mode string, duration time.Duration) {
	pdfRenderDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// UpdateRegistrationStats sets the template and issue gauges
func UpdateRegistrationStats(templates, issues int64) {
	templatesTotal.Set(float64(templates))
	issuesTotal.Set(float64(issues))
}

// UpdateDatabaseConnections refreshes the connection pool gauges
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.InUse))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	return nil
}
