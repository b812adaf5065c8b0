// Package server is the HTTP front end of the gateway. Every request on the
// bind address is classified by the active agent: namespace traffic runs the
// handler chain, everything else is proxied through untouched.
package server

import (
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
)

// Server type
type Server struct {
	addr string
	slot *agent.Slot

	proxy *httputil.ReverseProxy
}

// New return new server
func New(cfg *config.Config, slot *agent.Slot) *Server {
	if cfg.Bind == "" {
		cfg.Bind = ":8053"
	}

	s := &Server{
		addr: cfg.Bind,
		slot: slot,
	}

	s.proxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = req.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zlog.Debug("Pass-through failed", "host", r.Host, "error", err.Error())
			http.Error(w, "upstream unreachable", http.StatusBadGateway)
		},
	}

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a := s.slot.Active()
	if a == nil {
		writeResponse(w, gateway.ServiceStarting(3*time.Second))
		return
	}

	req := buildRequest(r)

	hw := &httpWriter{w: w, remote: r.RemoteAddr}
	if a.HandleRequest(r.Context(), hw, req) {
		return
	}

	s.proxy.ServeHTTP(w, r)
}

// Run listen the services
func (s *Server) Run() {
	zlog.Info("Gateway server listening...", "addr", s.addr)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Gateway listener failed", "addr", s.addr, "error", err.Error())
		}
	}()
}

func buildRequest(r *http.Request) *gateway.Request {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	return &gateway.Request{
		ID:         gateway.NewID(),
		Domain:     gateway.CanonicalDomain(r.Host),
		Path:       path,
		Method:     r.Method,
		Headers:    headers,
		RemoteAddr: r.RemoteAddr,
	}
}

func writeResponse(w http.ResponseWriter, resp *gateway.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// httpWriter adapts http.ResponseWriter to the chain's writer contract.
type httpWriter struct {
	w      http.ResponseWriter
	remote string
}

func (hw *httpWriter) WriteResponse(resp *gateway.Response) error {
	writeResponse(hw.w, resp)
	return nil
}

func (hw *httpWriter) RemoteAddr() net.Addr {
	host, port, err := net.SplitHostPort(hw.remote)
	if err != nil {
		return &net.TCPAddr{}
	}

	ip := net.ParseIP(host)
	p, _ := net.LookupPort("tcp", port)

	return &net.TCPAddr{IP: ip, Port: p}
}
