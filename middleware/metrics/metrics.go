// Package metrics counts gateway requests by status for Prometheus.
package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/middleware"
)

// Metrics type
type Metrics struct {
	requests *prometheus.CounterVec
}

// New return new metrics
func New(cfg *config.Config) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "How many private-namespace requests processed",
		},
		[]string{"domain", "status"},
	)

	if err := prometheus.Register(requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &Metrics{requests: requests}
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeGW implements the Handler interface.
func (m *Metrics) ServeGW(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if !ch.Writer.Written() {
		return
	}

	m.requests.With(prometheus.Labels{
		"domain": ch.Request.Domain,
		"status": strconv.Itoa(ch.Writer.Status()),
	}).Inc()
}

const name = "metrics"
