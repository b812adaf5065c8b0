package metrics

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
	"github.com/papernet/papergw/mock"
)

type ok struct{}

func (ok) Name() string { return "ok" }

func (ok) ServeGW(_ context.Context, ch *middleware.Chain) {
	_ = ch.Writer.WriteResponse(gateway.Synthesize(http.StatusOK, "served"))
}

func Test_Metrics(t *testing.T) {
	m := New(new(config.Config))
	assert.Equal(t, "metrics", m.Name())

	ch := middleware.NewChain([]middleware.Handler{m, ok{}})

	for i := 0; i < 3; i++ {
		w := mock.NewWriter("10.0.0.1:0")
		ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "blog.paper", Path: "/", Method: "GET"})
		ch.Next(context.Background())
	}

	count := testutil.ToFloat64(m.requests.WithLabelValues("blog.paper", "200"))
	assert.Equal(t, float64(3), count)
}

func Test_MetricsSharedCollector(t *testing.T) {
	m1 := New(new(config.Config))
	m2 := New(new(config.Config))

	ch := middleware.NewChain([]middleware.Handler{m2, ok{}})
	w := mock.NewWriter("10.0.0.1:0")
	ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "wiki.paper", Path: "/", Method: "GET"})
	ch.Next(context.Background())

	// both instances count into the one registered vec
	count := testutil.ToFloat64(m1.requests.WithLabelValues("wiki.paper", "200"))
	assert.Equal(t, float64(1), count)
}
