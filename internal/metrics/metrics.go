// Package metrics exposes Prometheus instrumentation for the auth
// surface: request counters and latency, plus auth-flow outcomes.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	authAttemptsTotal    *prometheus.CounterVec
	pkceRedemptionsTotal *prometheus.CounterVec
	emailSendsTotal      *prometheus.CounterVec
)

// Register initializes the metric set and returns the /metrics handler.
// pool, when non-nil, contributes connection-pool gauges.
func Register(reg prometheus.Registerer, pool func() *pgxpool.Pool) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "HTTP requests processed, by method, path and status.",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auth_http_inflight_requests",
			Help: "In-flight HTTP requests.",
		}, []string{"method", "path"})

		authAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by tenant, provider and result.",
		}, []string{"tenant", "provider", "result"})

		pkceRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_pkce_redemptions_total",
			Help: "PKCE code redemptions by tenant and result.",
		}, []string{"tenant", "result"})

		emailSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_email_sends_total",
			Help: "Transactional email dispatches by tenant and template.",
		}, []string{"tenant", "template"})

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
			authAttemptsTotal, pkceRedemptionsTotal, emailSendsTotal,
		} {
			if err := register(reg, c); err != nil {
				registerErr = err
				return
			}
		}
	})
	if registerErr != nil {
		return nil, registerErr
	}

	if pool != nil {
		if err := register(reg, newPoolCollector(pool)); err != nil {
			return nil, err
		}
	}
	return promhttp.Handler(), nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Middleware instruments requests with count, latency and inflight
// gauges. It is a no-op until Register has run.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)

		httpInflight.WithLabelValues(method, pathLabel).Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			httpInflight.WithLabelValues(method, pathLabel).Dec()
			httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RecordAuthAttempt counts one authentication attempt.
// result: "success" | "failure".
func RecordAuthAttempt(tenant, provider, result string) {
	if authAttemptsTotal != nil {
		authAttemptsTotal.WithLabelValues(tenant, provider, result).Inc()
	}
}

// RecordPKCERedemption counts one token-endpoint redemption.
func RecordPKCERedemption(tenant, result string) {
	if pkceRedemptionsTotal != nil {
		pkceRedemptionsTotal.WithLabelValues(tenant, result).Inc()
	}
}

// RecordEmailSend counts one transactional email dispatch.
func RecordEmailSend(tenant, template string) {
	if emailSendsTotal != nil {
		emailSendsTotal.WithLabelValues(tenant, template).Inc()
	}
}

type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("auth_pgxpool_acquired", "Acquired store connections.", nil, nil),
		idleDesc:     prometheus.NewDesc("auth_pgxpool_idle", "Idle store connections.", nil, nil),
		totalDesc:    prometheus.NewDesc("auth_pgxpool_total", "Total store connections.", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}

var (
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{24,}$`)
)

// normalizePath collapses volatile segments (uuids, tokens) so label
// cardinality stays bounded.
func normalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	segments := strings.Split(clean, "/")
	var out []string
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isDynamicSegment(seg) {
			out = append(out, ":param")
		} else {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 {
		return true
	}
	if uuidSegmentRE.MatchString(seg) || tokenSegmentRE.MatchString(seg) {
		return true
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}
