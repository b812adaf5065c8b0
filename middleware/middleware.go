// Package middleware provides the handler chain every private-namespace
// request travels through inside the interception agent.
package middleware

import (
	"context"
)

// Handler is one chain element.
type Handler interface {
	Name() string
	ServeGW(context.Context, *Chain)
}

// Named returns the handler with the given name from a handler list.
func Named(handlers []Handler, name string) Handler {
	for _, h := range handlers {
		if h.Name() == name {
			return h
		}
	}

	return nil
}
