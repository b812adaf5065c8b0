// Package nameserver answers name lookups for the private namespace, mapping
// namespace domains onto the gateway address.
package nameserver

import (
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
)

const answerTTL = 60

// Server is a small authoritative responder for the reserved namespace.
// Queries outside the namespace are refused so a stub resolver falls
// through to its next upstream.
type Server struct {
	addr        string
	reservedTLD string
	gatewayIP   net.IP
	slot        *agent.Slot
}

// New return new server
func New(cfg *config.Config, slot *agent.Slot) *Server {
	if cfg.NameserverBind == "" {
		cfg.NameserverBind = ":5353"
	}

	ip := net.ParseIP(cfg.GatewayIP)
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}

	return &Server{
		addr:        cfg.NameserverBind,
		reservedTLD: strings.ToLower(cfg.ReservedTLD),
		gatewayIP:   ip,
		slot:        slot,
	}
}

// ServeDNS implements the dns.Handler interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) == 0 {
		return
	}

	q := req.Question[0]
	domain := gateway.CanonicalDomain(q.Name)

	if !s.resolvable(domain) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeRefused)
		_ = w.WriteMsg(m)

		return
	}

	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	switch q.Qtype {
	case dns.TypeA:
		if v4 := s.gatewayIP.To4(); v4 != nil {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: answerTTL},
				A:   v4,
			})
		}
	case dns.TypeAAAA:
		if v4 := s.gatewayIP.To4(); v4 == nil {
			m.Answer = append(m.Answer, &dns.AAAA{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: answerTTL},
				AAAA: s.gatewayIP,
			})
		}
	}

	_ = w.WriteMsg(m)
}

// resolvable reports whether the queried name belongs to the namespace the
// gateway serves, either by the reserved suffix or by agent membership.
func (s *Server) resolvable(domain string) bool {
	if domain == s.reservedTLD || strings.HasSuffix(domain, "."+s.reservedTLD) {
		return true
	}

	if a := s.slot.Active(); a != nil {
		return a.Members().HasDomain(domain) || a.Members().MatchesTLD(domain)
	}

	return false
}

// Run listen the services
func (s *Server) Run() {
	go s.listenAndServe("udp")
	go s.listenAndServe("tcp")
}

func (s *Server) listenAndServe(network string) {
	zlog.Info("Nameserver listening...", "net", network, "addr", s.addr)

	server := &dns.Server{
		Addr:      s.addr,
		Net:       network,
		Handler:   s,
		ReusePort: true,
	}

	if err := server.ListenAndServe(); err != nil {
		zlog.Error("Nameserver listener failed", "net", network, "addr", s.addr, "error", err.Error())
	}
}
