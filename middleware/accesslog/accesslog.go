// Package accesslog writes one Common Log Format style line per gateway
// request.
package accesslog

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/middleware"
)

// AccessLog type
type AccessLog struct {
	cfg     *config.Config
	logFile *os.File
}

// New returns a new AccessLog
func New(cfg *config.Config) *AccessLog {
	var logFile *os.File
	var err error

	if cfg.AccessLog != "" {
		logFile, err = os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "error", strings.Trim(err.Error(), "\n"))
		}
	}

	return &AccessLog{
		cfg:     cfg,
		logFile: logFile,
	}
}

// Name return middleware name
func (a *AccessLog) Name() string { return name }

// ServeGW implements the Handler interface.
func (a *AccessLog) ServeGW(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	w := ch.Writer

	if a.logFile != nil && w.Written() && !w.Internal() {
		req := ch.Request

		remote := "-"
		if ip := w.RemoteIP(); ip != nil {
			remote = ip.String()
		}

		record := []string{
			remote + " -",
			"[" + time.Now().Format("02/Jan/2006:15:04:05 -0700") + "]",
			"\"" + req.Method + " " + req.Domain + req.Path + "\"",
			strconv.Itoa(w.Status()),
			strconv.Itoa(len(w.Response().Body)),
		}

		_, err := a.logFile.WriteString(strings.Join(record, " ") + "\n")
		if err != nil {
			zlog.Error("Access log write failed", "error", strings.Trim(err.Error(), "\n"))
		}
	}
}

const name = "accesslog"
