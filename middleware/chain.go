package middleware

import (
	"context"

	"github.com/papernet/papergw/gateway"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *gateway.Request

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// Next call next handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeGW(ctx, ch)
}

// Cancel cancel next calls.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// CancelWithStatus writes a synthesized response and cancels next calls.
func (ch *Chain) CancelWithStatus(status int, message string) {
	_ = ch.Writer.WriteResponse(gateway.Synthesize(status, message))

	ch.count = 0
}

// Reset the chain variables.
func (ch *Chain) Reset(w Writer, req *gateway.Request) {
	ch.Writer.Reset(w)
	ch.Request = req
	ch.count = len(ch.handlers)
	ch.head = 0
}
