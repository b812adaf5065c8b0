// Package mock provides a recording response writer for handler tests.
package mock

import (
	"net"

	"github.com/papernet/papergw/gateway"
)

// Writer type
type Writer struct {
	resp *gateway.Response

	remoteAddr net.Addr
	internal   bool
}

// NewWriter return writer
func NewWriter(addr string) *Writer {
	w := &Writer{}

	if addr == "" {
		w.internal = true
		w.remoteAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
		return w
	}

	w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)

	return w
}

// WriteResponse records the response.
func (w *Writer) WriteResponse(resp *gateway.Response) error {
	w.resp = resp
	return nil
}

// Response return the recorded response.
func (w *Writer) Response() *gateway.Response {
	return w.resp
}

// Status return the recorded status code, 0 when nothing was written.
func (w *Writer) Status() int {
	if w.resp == nil {
		return 0
	}

	return w.resp.Status
}

// Written func
func (w *Writer) Written() bool {
	return w.resp != nil
}

// RemoteAddr func
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

// Internal func
func (w *Writer) Internal() bool { return w.internal }
