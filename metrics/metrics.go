// Package metrics records how the synchronization cores perform. The default collector does
// nothing; Prometheus exposes the same data for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
)

// Collector provides hooks for observability.
type Collector interface {
	// ObserveOperation records one finished operation of a component.
	ObserveOperation(component, op string, d time.Duration, err error)

	// SetItems records how many items a component currently holds.
	SetItems(component string, n int)
}

// NoOp is a stub implementation that discards metrics.
type NoOp struct{}

func (NoOp) ObserveOperation(component, op string, d time.Duration, err error) {}
func (NoOp) SetItems(component string, n int)                                  {}

// Prometheus keeps its metrics on a private registry.
type Prometheus struct {
	reg      *prometheus.Registry
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	items    *prometheus.GaugeVec
}

var _ Collector = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_operation_duration_seconds",
		Help:    "Duration of storefront synchronization operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_operation_errors_total",
		Help: "Failed storefront synchronization operations by error kind.",
	}, []string{"component", "operation", "kind"})
	items := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_items",
		Help: "Items currently held per component.",
	}, []string{"component"})

	reg.MustRegister(duration, errs, items)
	return &Prometheus{reg: reg, duration: duration, errors: errs, items: items}
}

func (p *Prometheus) ObserveOperation(component, op string, d time.Duration, err error) {
	p.duration.WithLabelValues(component, op).Observe(d.Seconds())
	if err != nil {
		p.errors.WithLabelValues(component, op, errorKind(err)).Inc()
	}
}

func (p *Prometheus) SetItems(component string, n int) {
	p.items.WithLabelValues(component).Set(float64(n))
}

// Registry exposes the registry so binaries can add their own collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func errorKind(err error) string {
	for _, kind := range []syncErrors.Kind{
		syncErrors.KindUnauthenticated,
		syncErrors.KindNotFound,
		syncErrors.KindInvalid,
		syncErrors.KindMethodNotAllowed,
		syncErrors.KindUnavailable,
		syncErrors.KindInternal,
	} {
		if syncErrors.IsKind(err, kind) {
			return string(kind)
		}
	}
	return "unknown"
}

// Since observes an operation started at start. It is meant for defer:
//
//	defer metrics.Since(c, "cart", "add_to_cart", time.Now(), &err)
func Since(c Collector, component, op string, start time.Time, err *error) {
	if c == nil {
		return
	}
	var e error
	if err != nil {
		e = *err
	}
	c.ObserveOperation(component, op, time.Since(start), e)
}
