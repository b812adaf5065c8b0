package recovery

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
	"github.com/papernet/papergw/mock"
)

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) ServeGW(_ context.Context, _ *middleware.Chain) {
	panic("test recovery")
}

func Test_Recovery(t *testing.T) {
	r := New(new(config.Config))
	assert.Equal(t, "recovery", r.Name())

	ch := middleware.NewChain([]middleware.Handler{r, panicky{}})

	w := mock.NewWriter("10.0.0.1:0")
	ch.Reset(w, &gateway.Request{ID: gateway.NewID(), Domain: "blog.paper"})
	ch.Next(context.Background())

	if assert.True(t, w.Written()) {
		assert.Equal(t, http.StatusInternalServerError, w.Status())
	}
}
