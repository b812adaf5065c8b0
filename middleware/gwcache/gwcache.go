// Package gwcache serves private-namespace responses from the agent's local
// response cache and stores successful resolver responses on the way out.
package gwcache

import (
	"context"
	"net/http"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
)

// GWCache type
type GWCache struct {
	cache *cache.Cache
}

// New returns the cache handler operating on the agent-owned cache.
func New(cfg *config.Config, c *cache.Cache) *GWCache {
	return &GWCache{cache: c}
}

// Name return middleware name
func (g *GWCache) Name() string { return name }

// ServeGW implements the Handler interface.
func (g *GWCache) ServeGW(ctx context.Context, ch *middleware.Chain) {
	req := ch.Request

	if !cacheable(req.Method) {
		ch.Next(ctx)
		return
	}

	key := cache.Key(req.Domain, req.Path)

	if e, ok := g.cache.Get(key); ok {
		zlog.Debug("Cache hit", "domain", req.Domain, "path", req.Path)

		headers := make(map[string]string, len(e.Headers)+1)
		for k, v := range e.Headers {
			headers[k] = v
		}
		headers["x-gateway-cache"] = "hit"

		_ = ch.Writer.WriteResponse(&gateway.Response{
			Status:  e.Status,
			Headers: headers,
			Body:    e.Body,
		})

		ch.Cancel()
		return
	}

	ch.Next(ctx)

	resp := ch.Writer.Response()
	if resp == nil || resp.Status >= http.StatusBadRequest {
		return
	}

	g.cache.Add(key, &cache.Entry{
		Domain:   req.Domain,
		Path:     req.Path,
		Status:   resp.Status,
		Headers:  resp.Headers,
		Body:     resp.Body,
		StoredAt: time.Now(),
	})
}

func cacheable(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

const name = "cache"
