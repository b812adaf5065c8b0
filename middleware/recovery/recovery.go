// Package recovery converts handler panics into a synthesized 500 response.
package recovery

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/middleware"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New(cfg *config.Config) *Recovery {
	return &Recovery{}
}

// Name return middleware name.
func (r *Recovery) Name() string { return name }

// ServeGW implements the Handler interface.
func (r *Recovery) ServeGW(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if rec := recover(); rec != nil {
			ch.CancelWithStatus(http.StatusInternalServerError, "internal gateway error")

			zlog.Error("Recovered in ServeGW", "recover", rec)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", rec))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
