// Package admission implements the request-admission filter consulted before
// a request may reach the resolver bridge: per-address sliding window rate
// limiting, reputation scoring and an explicit block list.
package admission

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"

	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/middleware"
)

const (
	windowSize      = time.Minute
	penaltyDuration = 5 * time.Minute
	reputationMin   = 0.3
	reputationIdle  = 24 * time.Hour
	rateIdle        = 5 * time.Minute

	name = "admission"
)

type rateRecord struct {
	admissions   []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

type reputationRecord struct {
	score    float64
	lastSeen time.Time
}

// Admission type
type Admission struct {
	mu sync.Mutex

	limit int

	rates      map[string]*rateRecord
	reputation map[string]*reputationRecord
	blocklist  map[string]bool
	ranger     cidranger.Ranger

	now func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New returns an admission filter seeded from the configured block list.
func New(cfg *config.Config) *Admission {
	a := &Admission{
		limit:      cfg.RateLimit,
		rates:      make(map[string]*rateRecord),
		reputation: make(map[string]*reputationRecord),
		blocklist:  make(map[string]bool),
		ranger:     cidranger.NewPCTrieRanger(),
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}

	a.Reload(cfg.Blocklist)

	go a.sweep()

	return a
}

// Name return middleware name
func (a *Admission) Name() string { return name }

// ServeGW implements the Handler interface.
func (a *Admission) ServeGW(ctx context.Context, ch *middleware.Chain) {
	w := ch.Writer

	if w.Internal() {
		ch.Next(ctx)
		return
	}

	ip := w.RemoteIP()
	if ip == nil {
		ch.Next(ctx)
		return
	}

	if !a.CheckRequest(ip.String()) {
		ch.CancelWithStatus(http.StatusTooManyRequests, "admission denied")
		return
	}

	ch.Next(ctx)
}

// CheckRequest reports whether one request from the source address may
// proceed. A deny is reflected in the address reputation.
func (a *Admission) CheckRequest(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	if a.blockedLocked(addr) {
		a.decayLocked(addr, now)
		return false
	}

	if !a.rateAllowLocked(addr, now) {
		a.decayLocked(addr, now)
		return false
	}

	rep := a.reputationLocked(addr, now)
	if rep.score < reputationMin {
		zlog.Debug("Admission denied by reputation", "addr", addr, "score", rep.score)
		return false
	}

	return true
}

// BlockIP adds the address to the block list and permanently discounts its
// reputation by 0.5.
func (a *Admission) BlockIP(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.blocklist[addr] = true

	rep := a.reputationLocked(addr, a.now())
	rep.score -= 0.5
	if rep.score < 0 {
		rep.score = 0
	}

	zlog.Info("Address blocked", "addr", addr, "score", rep.score)
}

// UnblockIP removes only the block list entry, not the reputation discount.
func (a *Admission) UnblockIP(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.blocklist, addr)
}

// Blocked reports whether the address is denied outright.
func (a *Admission) Blocked(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.blockedLocked(addr)
}

// Reputation returns the current trust score of an address.
func (a *Admission) Reputation(addr string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.reputationLocked(addr, a.now()).score
}

// Reload replaces the configured block list entries. Plain addresses join the
// exact set, CIDR ranges the prefix trie.
func (a *Admission) Reload(entries []string) {
	ranger := cidranger.NewPCTrieRanger()
	exact := make(map[string]bool)

	for _, entry := range entries {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			_ = ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
			continue
		}

		if ip := net.ParseIP(entry); ip != nil {
			exact[ip.String()] = true
			continue
		}

		zlog.Warn("Blocklist entry is not an address or CIDR", "entry", entry)
	}

	a.mu.Lock()
	a.ranger = ranger
	for addr := range exact {
		a.blocklist[addr] = true
	}
	a.mu.Unlock()
}

// Stop stops the idle sweeper.
func (a *Admission) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopSweep)
	})
}

func (a *Admission) blockedLocked(addr string) bool {
	if a.blocklist[addr] {
		return true
	}

	if ip := net.ParseIP(addr); ip != nil {
		if contained, err := a.ranger.Contains(ip); err == nil && contained {
			return true
		}
	}

	return false
}

func (a *Admission) rateAllowLocked(addr string, now time.Time) bool {
	if a.limit == 0 {
		return true
	}

	rec, ok := a.rates[addr]
	if !ok {
		rec = &rateRecord{}
		a.rates[addr] = rec
	}
	rec.lastSeen = now

	// penalty window holds regardless of subsequent traffic
	if now.Before(rec.blockedUntil) {
		return false
	}

	cutoff := now.Add(-windowSize)
	live := rec.admissions[:0]
	for _, t := range rec.admissions {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	rec.admissions = live

	if len(rec.admissions) >= a.limit {
		rec.blockedUntil = now.Add(penaltyDuration)

		zlog.Warn("Rate window exceeded, penalty applied", "addr", addr, "until", rec.blockedUntil)

		return false
	}

	rec.admissions = append(rec.admissions, now)

	return true
}

func (a *Admission) reputationLocked(addr string, now time.Time) *reputationRecord {
	rep, ok := a.reputation[addr]
	if !ok {
		rep = &reputationRecord{score: 1.0}
		a.reputation[addr] = rep
	}
	rep.lastSeen = now

	return rep
}

// decayLocked lowers the trust score of an address after a deny.
func (a *Admission) decayLocked(addr string, now time.Time) {
	rep := a.reputationLocked(addr, now)
	rep.score *= 0.95
}

func (a *Admission) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := a.now()

			a.mu.Lock()
			for addr, rec := range a.rates {
				if now.Sub(rec.lastSeen) > rateIdle && now.After(rec.blockedUntil) {
					delete(a.rates, addr)
				}
			}
			for addr, rep := range a.reputation {
				if now.Sub(rep.lastSeen) > reputationIdle {
					delete(a.reputation, addr)
				}
			}
			a.mu.Unlock()
		case <-a.stopSweep:
			return
		}
	}
}
