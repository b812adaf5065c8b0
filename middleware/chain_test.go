package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/mock"
)

type named struct {
	name  string
	serve func(context.Context, *Chain)
}

func (h *named) Name() string                          { return h.name }
func (h *named) ServeGW(ctx context.Context, c *Chain) { h.serve(ctx, c) }

func Test_ChainOrder(t *testing.T) {
	var order []string

	mk := func(name string) Handler {
		return &named{name: name, serve: func(ctx context.Context, ch *Chain) {
			order = append(order, name)
			ch.Next(ctx)
		}}
	}

	ch := NewChain([]Handler{mk("first"), mk("second"), mk("third")})
	ch.Reset(mock.NewWriter("10.0.0.1:0"), &gateway.Request{ID: gateway.NewID()})
	ch.Next(context.Background())

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func Test_ChainCancel(t *testing.T) {
	reached := false

	stop := &named{name: "stop", serve: func(ctx context.Context, ch *Chain) {
		ch.Cancel()
	}}
	after := &named{name: "after", serve: func(ctx context.Context, ch *Chain) {
		reached = true
	}}

	ch := NewChain([]Handler{stop, after})
	ch.Reset(mock.NewWriter("10.0.0.1:0"), &gateway.Request{})
	ch.Next(context.Background())

	assert.False(t, reached)
}

func Test_ChainCancelWithStatus(t *testing.T) {
	deny := &named{name: "deny", serve: func(ctx context.Context, ch *Chain) {
		ch.CancelWithStatus(http.StatusTooManyRequests, "rate limited")
	}}

	w := mock.NewWriter("10.0.0.1:0")
	ch := NewChain([]Handler{deny})
	ch.Reset(w, &gateway.Request{})
	ch.Next(context.Background())

	assert.True(t, w.Written())
	assert.Equal(t, http.StatusTooManyRequests, w.Status())
	assert.True(t, ch.Writer.Written())
	assert.Equal(t, http.StatusTooManyRequests, ch.Writer.Status())
}

func Test_ChainWriterState(t *testing.T) {
	ch := NewChain(nil)
	ch.Reset(mock.NewWriter("10.0.0.2:0"), &gateway.Request{})

	assert.Equal(t, "10.0.0.2", ch.Writer.RemoteIP().String())
	assert.False(t, ch.Writer.Internal())
	assert.False(t, ch.Writer.Written())

	// internal writers carry no remote address
	ch.Reset(mock.NewWriter(""), &gateway.Request{})
	assert.True(t, ch.Writer.Internal())

	err := ch.Writer.WriteResponse(gateway.Synthesize(http.StatusOK, "ok"))
	assert.NoError(t, err)

	err = ch.Writer.WriteResponse(gateway.Synthesize(http.StatusOK, "twice"))
	assert.Equal(t, errAlreadyWritten, err)
}

func Test_Named(t *testing.T) {
	a := &named{name: "a"}
	b := &named{name: "b"}

	handlers := []Handler{a, b}

	assert.Equal(t, a, Named(handlers, "a"))
	assert.Nil(t, Named(handlers, "missing"))
}
