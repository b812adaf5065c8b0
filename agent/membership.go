package agent

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/papernet/papergw/gateway"
)

// membershipKey is the fixed record the namespace membership set is persisted
// under, so registrations survive agent restarts.
const membershipKey = "membership:v1"

// Membership is the persisted registered-domain and registered-label set of
// the private namespace.
type Membership struct {
	mu sync.RWMutex

	domains map[string]bool
	tlds    map[string]bool

	db *leveldb.DB
}

type membershipRecord struct {
	Domains []string `json:"domains"`
	TLDs    []string `json:"tlds"`
}

// OpenMembership loads the membership set from the store. A missing record
// yields an empty set.
func OpenMembership(db *leveldb.DB) (*Membership, error) {
	m := &Membership{
		domains: make(map[string]bool),
		tlds:    make(map[string]bool),
		db:      db,
	}

	data, err := db.Get([]byte(membershipKey), nil)
	if err == leveldb.ErrNotFound {
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	var rec membershipRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	for _, d := range rec.Domains {
		m.domains[d] = true
	}
	for _, t := range rec.TLDs {
		m.tlds[t] = true
	}

	return m, nil
}

// RegisterDomain adds a domain and its www. variant to the set and persists.
func (m *Membership) RegisterDomain(domain string) error {
	domain = gateway.CanonicalDomain(domain)
	if domain == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.domains[domain] = true
	if !strings.HasPrefix(domain, "www.") {
		m.domains["www."+domain] = true
	}

	return m.persistLocked()
}

// RegisterTLD adds a top-level label to the set and persists.
func (m *Membership) RegisterTLD(tld string) error {
	tld = strings.TrimPrefix(gateway.CanonicalDomain(tld), ".")
	if tld == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tlds[tld] = true

	return m.persistLocked()
}

// HasDomain reports explicit domain membership.
func (m *Membership) HasDomain(domain string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.domains[gateway.CanonicalDomain(domain)]
}

// MatchesTLD reports whether the domain falls under a registered label.
func (m *Membership) MatchesTLD(domain string) bool {
	domain = gateway.CanonicalDomain(domain)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for tld := range m.tlds {
		if domain == tld || strings.HasSuffix(domain, "."+tld) {
			return true
		}
	}

	return false
}

// Snapshot returns the persisted record shape, sorted for stable output.
func (m *Membership) Snapshot() (domains, tlds []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for d := range m.domains {
		domains = append(domains, d)
	}
	for t := range m.tlds {
		tlds = append(tlds, t)
	}

	sort.Strings(domains)
	sort.Strings(tlds)

	return domains, tlds
}

func (m *Membership) persistLocked() error {
	rec := membershipRecord{
		Domains: make([]string, 0, len(m.domains)),
		TLDs:    make([]string, 0, len(m.tlds)),
	}

	for d := range m.domains {
		rec.Domains = append(rec.Domains, d)
	}
	for t := range m.tlds {
		rec.TLDs = append(rec.TLDs, t)
	}

	sort.Strings(rec.Domains)
	sort.Strings(rec.TLDs)

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return m.db.Put([]byte(membershipKey), data, nil)
}
