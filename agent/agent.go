// Package agent implements the interception agent: a long-lived worker with a
// message-dispatch loop that classifies outbound requests and routes
// private-namespace traffic through the gateway handler chain.
package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/semihalev/zlog/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/papernet/papergw/bridge"
	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware"
)

// State is the agent lifecycle state.
type State int32

// Lifecycle states.
const (
	StateInstalled State = iota
	StateActivating
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "installed"
	}
}

// Classification of one intercepted request.
type Classification int

// Classifications, checked in order.
const (
	ClassPrivate Classification = iota
	ClassGatewayInternal
	ClassPassThrough
)

// Payload is the validated agent payload a source delivered.
type Payload struct {
	Bytes  []byte
	Digest string
	Source string
}

// Deps are the explicitly injected collaborators of one agent instance.
type Deps struct {
	Cfg      *config.Config
	Bridge   *bridge.Bridge
	Cache    *cache.Cache
	DB       *leveldb.DB
	Handlers []middleware.Handler
}

// Agent type
type Agent struct {
	cfg    *config.Config
	bridge *bridge.Bridge
	cache  *cache.Cache
	db     *leveldb.DB

	handlers []middleware.Handler

	members *Membership
	payload Payload

	state atomic.Int32

	events   chan gateway.Message
	stop     chan struct{}
	stopOnce sync.Once
}

// New returns an installed agent. On install the agent takes control
// immediately; there is no staged rollout.
func New(deps Deps, payload Payload) *Agent {
	a := &Agent{
		cfg:      deps.Cfg,
		bridge:   deps.Bridge,
		cache:    deps.Cache,
		db:       deps.DB,
		handlers: deps.Handlers,
		payload:  payload,
		events:   make(chan gateway.Message, 64),
		stop:     make(chan struct{}),
	}

	a.state.Store(int32(StateInstalled))

	return a
}

// State returns the lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Payload returns the payload the agent was activated from.
func (a *Agent) Payload() Payload {
	return a.payload
}

// Members returns the namespace membership set.
func (a *Agent) Members() *Membership {
	return a.members
}

// Start activates the agent: load the persisted membership set, purge caches
// left by prior payload versions, signal readiness to the primary context and
// enter the dispatch loop.
func (a *Agent) Start(ctx context.Context) error {
	a.state.Store(int32(StateActivating))

	members, err := OpenMembership(a.db)
	if err != nil {
		a.state.Store(int32(StateStopped))
		return err
	}
	a.members = members

	if purged, err := a.purgePriorVersions(); err != nil {
		zlog.Warn("Purging prior version caches failed", "error", err.Error())
	} else if purged > 0 {
		zlog.Info("Purged cache entries of prior agent versions", "entries", purged)
	}

	if restored, err := a.ImportCache(); err != nil {
		zlog.Warn("Cache import failed", "error", err.Error())
	} else if restored > 0 {
		zlog.Info("Restored exported cache entries", "entries", restored)
	}

	a.state.Store(int32(StateActive))

	// readiness signal is best effort, the primary context may attach later
	if err := a.bridge.Notify(ctx, gateway.Message{Type: gateway.MsgGatewayReady}); err != nil {
		zlog.Debug("Readiness signal not delivered", "error", err.Error())
	}

	go a.dispatch()

	zlog.Info("Interception agent active", "source", a.payload.Source, "digest", a.payload.Digest)

	return nil
}

// Stop terminates the dispatch loop.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.state.Store(int32(StateStopped))
		close(a.stop)
	})
}

// Deliver posts one control message to the dispatch loop.
func (a *Agent) Deliver(msg gateway.Message) {
	select {
	case a.events <- msg:
	default:
		zlog.Warn("Agent event queue full, dropping message", "type", msg.Type)
	}
}

// Classify decides the path of one intercepted request: private namespace,
// gateway-internal (unwrapped and re-entered as private) or pass-through.
// For the first two the returned domain and path are the private-namespace
// target.
func (a *Agent) Classify(domain, path string) (Classification, string, string) {
	domain = gateway.CanonicalDomain(domain)

	if a.inNamespace(domain) {
		return ClassPrivate, domain, path
	}

	if inner, rest, ok := a.unwrapPrefix(path); ok && a.inNamespace(inner) {
		return ClassGatewayInternal, inner, rest
	}

	return ClassPassThrough, domain, path
}

// HandleRequest routes one intercepted request. Private-namespace requests
// run the handler chain and are answered on w; pass-through requests are left
// untouched and reported false.
func (a *Agent) HandleRequest(ctx context.Context, w middleware.Writer, req *gateway.Request) bool {
	class, domain, path := a.Classify(req.Domain, req.Path)
	if class == ClassPassThrough {
		return false
	}

	req.Domain, req.Path = domain, path
	if req.ID == "" {
		req.ID = gateway.NewID()
	}

	ch := middleware.NewChain(a.handlers)
	ch.Reset(w, req)
	ch.Next(ctx)

	if !ch.Writer.Written() {
		// admission denies without a body end up here
		_ = ch.Writer.WriteResponse(gateway.Synthesize(403, "denied"))
	}

	return true
}

func (a *Agent) inNamespace(domain string) bool {
	tld := a.cfg.ReservedTLD

	if domain == tld || strings.HasSuffix(domain, "."+tld) {
		return true
	}

	if a.members == nil {
		return false
	}

	return a.members.HasDomain(domain) || a.members.MatchesTLD(domain)
}

// unwrapPrefix recovers the private-namespace target from the internal
// gateway-prefix convention: prefix + domain + remainder path.
func (a *Agent) unwrapPrefix(path string) (domain, rest string, ok bool) {
	prefix := a.cfg.GatewayPrefix

	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}

	tail := strings.TrimPrefix(path, prefix)
	if tail == "" {
		return "", "", false
	}

	if i := strings.IndexByte(tail, '/'); i >= 0 {
		return gateway.CanonicalDomain(tail[:i]), tail[i:], true
	}

	return gateway.CanonicalDomain(tail), "/", true
}

// dispatch is the agent's single-threaded control message loop.
func (a *Agent) dispatch() {
	for {
		select {
		case msg := <-a.events:
			a.handleMessage(msg)
		case <-a.stop:
			return
		}
	}
}

func (a *Agent) handleMessage(msg gateway.Message) {
	switch msg.Type {
	case gateway.MsgDomainRegistered:
		if msg.Data == nil || msg.Data.Domain == "" {
			return
		}

		if err := a.members.RegisterDomain(msg.Data.Domain); err != nil {
			zlog.Error("Domain registration failed", "domain", msg.Data.Domain, "error", err.Error())
			return
		}

		zlog.Info("Domain registered", "domain", msg.Data.Domain)
	case gateway.MsgTLDRegistered:
		if msg.Data == nil || msg.Data.TLD == "" {
			return
		}

		if err := a.members.RegisterTLD(msg.Data.TLD); err != nil {
			zlog.Error("TLD registration failed", "tld", msg.Data.TLD, "error", err.Error())
			return
		}

		zlog.Info("TLD registered", "tld", msg.Data.TLD)
	case gateway.MsgClearCache:
		a.cache.Purge()
		zlog.Info("Response cache cleared")
	case gateway.MsgGatewayReady:
		// the primary context announcing itself, nothing to do
	default:
		zlog.Debug("Unknown control message", "type", msg.Type)
	}
}
