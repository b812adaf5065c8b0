package middleware

import (
	"errors"
	"net"

	"github.com/papernet/papergw/gateway"
)

// Writer is the transport-level sink for one response.
type Writer interface {
	WriteResponse(*gateway.Response) error
	RemoteAddr() net.Addr
}

// ResponseWriter tracks the response written by the chain.
type ResponseWriter interface {
	Writer
	Response() *gateway.Response
	Status() int
	Written() bool
	Reset(Writer)
	RemoteIP() net.IP
	Internal() bool
}

type responseWriter struct {
	Writer

	resp     *gateway.Response
	status   int
	remoteip net.IP
	internal bool
}

var _ ResponseWriter = &responseWriter{}
var errAlreadyWritten = errors.New("response already written")

func (w *responseWriter) Response() *gateway.Response {
	return w.resp
}

func (w *responseWriter) Status() int {
	return w.status
}

func (w *responseWriter) Written() bool {
	return w.resp != nil
}

func (w *responseWriter) RemoteIP() net.IP {
	return w.remoteip
}

func (w *responseWriter) Internal() bool {
	return w.internal
}

func (w *responseWriter) Reset(underlying Writer) {
	w.Writer = underlying
	w.resp = nil
	w.status = 0
	w.remoteip = nil
	w.internal = false

	if underlying == nil {
		return
	}

	switch addr := underlying.RemoteAddr().(type) {
	case *net.TCPAddr:
		w.remoteip = addr.IP
	case *net.UDPAddr:
		w.remoteip = addr.IP
	}

	if in, ok := underlying.(interface{ Internal() bool }); ok {
		w.internal = in.Internal()
	}
}

func (w *responseWriter) WriteResponse(resp *gateway.Response) error {
	if w.resp != nil {
		return errAlreadyWritten
	}

	w.resp = resp
	w.status = resp.Status

	return w.Writer.WriteResponse(resp)
}
