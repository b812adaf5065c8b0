// Package gateway defines the request, response and message types shared by
// the interception agent, the resolver bridge and the request middleware.
package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
)

// Message types exchanged between the interception agent and the primary
// context client.
const (
	MsgGatewayRequest   = "GATEWAY_REQUEST"
	MsgDomainRegistered = "DOMAIN_REGISTERED"
	MsgTLDRegistered    = "TLD_REGISTERED"
	MsgGatewayReady     = "GATEWAY_READY"
	MsgClearCache       = "CLEAR_CACHE"
)

// Request is one intercepted request forwarded through the gateway. The ID is
// the correlation id generated at interception time.
type Request struct {
	ID         string            `json:"id"`
	Domain     string            `json:"domain"`
	Path       string            `json:"path"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	RemoteAddr string            `json:"-"`
}

// Response is an HTTP-shaped resolver answer.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Message is the JSON envelope sent from the agent to the primary context
// client. The reply travels back on the per-request channel as a Reply.
type Message struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Domain  string            `json:"domain,omitempty"`
	Path    string            `json:"path,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    *MessageData      `json:"data,omitempty"`
}

// MessageData carries control message payloads.
type MessageData struct {
	Domain string `json:"domain,omitempty"`
	TLD    string `json:"tld,omitempty"`
}

// Reply is the single resolver answer for one Request: either Error is set
// (rejected) or Status/Headers/Body are set (resolved).
type Reply struct {
	ID      string            `json:"id"`
	Error   string            `json:"error,omitempty"`
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// NewID returns a new 128-bit correlation id.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])

	return hex.EncodeToString(b[:])
}

// CanonicalDomain lowercases a domain and strips any trailing dot and port.
// Bare IPv6 literals pass through untouched.
func CanonicalDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}

	return strings.Trim(domain, "[]")
}
