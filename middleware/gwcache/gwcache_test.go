package gwcache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
	"github.com/papernet/papergw/mock"
)

type origin struct {
	status int
	body   string
	calls  int
}

func (o *origin) Name() string { return "origin" }

func (o *origin) ServeGW(_ context.Context, ch *middleware.Chain) {
	o.calls++
	_ = ch.Writer.WriteResponse(gateway.Synthesize(o.status, o.body))
}

func Test_GWCacheHitMiss(t *testing.T) {
	c := cache.New(16, time.Minute)
	defer c.Stop()

	g := New(new(config.Config), c)
	assert.Equal(t, "cache", g.Name())

	o := &origin{status: http.StatusOK, body: "fresh"}
	ch := middleware.NewChain([]middleware.Handler{g, o})

	req := &gateway.Request{ID: gateway.NewID(), Domain: "blog.paper", Path: "/a", Method: "GET"}

	// miss forwards and stores
	w := mock.NewWriter("10.0.0.1:0")
	ch.Reset(w, req)
	ch.Next(context.Background())

	require.True(t, w.Written())
	assert.Equal(t, 1, o.calls)
	assert.Equal(t, 1, c.Len())

	// hit serves locally
	w = mock.NewWriter("10.0.0.1:0")
	ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "blog.paper", Path: "/a", Method: "GET"})
	ch.Next(context.Background())

	require.True(t, w.Written())
	assert.Equal(t, 1, o.calls)
	assert.Equal(t, "hit", w.Response().Headers["x-gateway-cache"])
	assert.Equal(t, []byte("fresh"), w.Response().Body)
}

func Test_GWCacheErrorNotStored(t *testing.T) {
	c := cache.New(16, time.Minute)
	defer c.Stop()

	g := New(new(config.Config), c)
	o := &origin{status: http.StatusBadGateway, body: "boom"}
	ch := middleware.NewChain([]middleware.Handler{g, o})

	w := mock.NewWriter("10.0.0.1:0")
	ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "x.paper", Path: "/", Method: "GET"})
	ch.Next(context.Background())

	assert.True(t, w.Written())
	assert.Equal(t, 0, c.Len())
}

func Test_GWCacheSkipsNonIdempotent(t *testing.T) {
	c := cache.New(16, time.Minute)
	defer c.Stop()

	g := New(new(config.Config), c)
	o := &origin{status: http.StatusOK, body: "posted"}
	ch := middleware.NewChain([]middleware.Handler{g, o})

	for i := 0; i < 2; i++ {
		w := mock.NewWriter("10.0.0.1:0")
		ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "x.paper", Path: "/submit", Method: "POST"})
		ch.Next(context.Background())
	}

	assert.Equal(t, 2, o.calls)
	assert.Equal(t, 0, c.Len())
}
