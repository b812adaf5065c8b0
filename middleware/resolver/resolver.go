// Package resolver is the terminal handler: it forwards the request over the
// resolver bridge to the primary context and writes the reply.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/bridge"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
)

const retryHint = 3 * time.Second

// Resolver type
type Resolver struct {
	bridge *bridge.Bridge
}

// New returns the bridge-forwarding handler.
func New(cfg *config.Config, b *bridge.Bridge) *Resolver {
	return &Resolver{bridge: b}
}

// Name return middleware name
func (r *Resolver) Name() string { return name }

// ServeGW implements the Handler interface. Bridge failures degrade to a
// "starting up" page with a retry hint, never a hard failure: the primary
// context may simply not be attached yet.
func (r *Resolver) ServeGW(ctx context.Context, ch *middleware.Chain) {
	req := ch.Request

	resp, err := r.bridge.Forward(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrNoClient):
			zlog.Debug("No primary context attached", "domain", req.Domain)
		case errors.Is(err, bridge.ErrBridgeTimeout):
			zlog.Warn("Resolver bridge timed out", "id", req.ID, "domain", req.Domain)
		default:
			zlog.Warn("Resolver bridge failed", "id", req.ID, "domain", req.Domain, "error", err.Error())
		}

		_ = ch.Writer.WriteResponse(gateway.ServiceStarting(retryHint))
		ch.Cancel()
		return
	}

	_ = ch.Writer.WriteResponse(resp)
	ch.Next(ctx)
}

const name = "resolver"
