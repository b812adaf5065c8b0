// Package loader retrieves the interception agent payload from one bootstrap
// source, validates it and activates it into the agent slot.
package loader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/source"
)

const (
	// minimum plausible agent payload size
	minPayloadSize = 256

	// capability markers a payload must carry: event registration, fetch
	// interception and the install lifecycle
	markerEvents  = "addEventListener"
	markerFetch   = "fetch"
	markerInstall = "install"

	// embedded-document payload delimiters
	embeddedStart = "%%PAPERGW_AGENT_BEGIN%%"
	embeddedEnd   = "%%PAPERGW_AGENT_END%%"

	// bounded wait for an embedded document to activate as a side effect
	embeddedWait = 2 * time.Second

	defaultTimeout = 5 * time.Second
)

// LoadResult is the outcome of one load attempt. Failures are carried as
// values, never raised past this boundary.
type LoadResult struct {
	Success  bool
	Source   source.Source
	Location string
	Error    string
	Latency  time.Duration
}

// Loader type
type Loader struct {
	cfg  *config.Config
	slot *agent.Slot
	deps agent.Deps

	client *http.Client

	// ContentGateway resolves content-addressed locations to fetchable URLs.
	ContentGateway string
}

// New returns a loader activating agents into slot with the given
// collaborators.
func New(cfg *config.Config, slot *agent.Slot, deps agent.Deps) *Loader {
	return &Loader{
		cfg:            cfg,
		slot:           slot,
		deps:           deps,
		client:         &http.Client{},
		ContentGateway: "https://ipfs.io/ipfs/",
	}
}

// LoadFromSource attempts one source end to end: resolve the payload
// location for its retrieval kind, fetch within the source timeout, validate
// and activate. Idempotent: a live agent short-circuits with success.
func (l *Loader) LoadFromSource(ctx context.Context, src source.Source) LoadResult {
	start := time.Now()

	if l.slot.IsActive() {
		return LoadResult{Success: true, Source: src, Latency: time.Since(start)}
	}

	if src.Kind == source.KindEmbedded {
		return l.loadEmbedded(ctx, src, start)
	}

	location, err := l.resolveLocation(src)
	if err != nil {
		return fail(src, start, "", err)
	}

	return l.fetchAndActivate(ctx, src, location, start)
}

func (l *Loader) fetchAndActivate(ctx context.Context, src source.Source, location string, start time.Time) LoadResult {
	payload, err := l.fetch(ctx, src, location)
	if err != nil {
		return fail(src, start, location, err)
	}

	digest, err := validate(payload, src.Digest)
	if err != nil {
		return fail(src, start, location, err)
	}

	if err := l.activate(ctx, agent.Payload{Bytes: payload, Digest: digest, Source: src.ID}); err != nil {
		return fail(src, start, location, err)
	}

	zlog.Info("Bootstrap source succeeded", "source", src.ID, "kind", string(src.Kind), "latency", time.Since(start).String())

	return LoadResult{
		Success:  true,
		Source:   src,
		Location: location,
		Latency:  time.Since(start),
	}
}

// resolveLocation turns a source descriptor into a fetchable payload URL.
func (l *Loader) resolveLocation(src source.Source) (string, error) {
	switch src.Kind {
	case source.KindDirect, source.KindCDN:
		return src.Location, nil
	case source.KindContentAddressed:
		if strings.HasPrefix(src.Location, "http://") || strings.HasPrefix(src.Location, "https://") {
			return src.Location, nil
		}

		return l.ContentGateway + src.Location, nil
	case source.KindP2P:
		host, port, err := net.SplitHostPort(src.Location)
		if err != nil {
			return "", fmt.Errorf("peer address %q: %w", src.Location, err)
		}

		return fmt.Sprintf("http://%s/agent", net.JoinHostPort(host, port)), nil
	default:
		return "", fmt.Errorf("unknown retrieval kind %q", src.Kind)
	}
}

func (l *Loader) fetch(ctx context.Context, src source.Source, location string) ([]byte, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (l *Loader) activate(ctx context.Context, payload agent.Payload) error {
	a := agent.New(l.deps, payload)

	return l.slot.Activate(ctx, a, l.cfg.ActivationTimeout.Duration)
}

// loadEmbedded handles the embedded-document kind: the payload travels inside
// a carrier document whose execution is expected to activate the agent as a
// side effect, observed by polling. An unobserved activation falls back to a
// guessed direct location.
func (l *Loader) loadEmbedded(ctx context.Context, src source.Source, start time.Time) LoadResult {
	doc, err := l.fetch(ctx, src, src.Location)
	if err != nil {
		return fail(src, start, src.Location, err)
	}

	if payload, ok := extractEmbedded(doc); ok {
		go func() {
			digest, err := validate(payload, src.Digest)
			if err != nil {
				zlog.Debug("Embedded payload invalid", "source", src.ID, "error", err.Error())
				return
			}

			if err := l.activate(ctx, agent.Payload{Bytes: payload, Digest: digest, Source: src.ID}); err != nil {
				zlog.Debug("Embedded activation failed", "source", src.ID, "error", err.Error())
			}
		}()

		if l.pollActive(ctx, embeddedWait) {
			return LoadResult{
				Success:  true,
				Source:   src,
				Location: src.Location,
				Latency:  time.Since(start),
			}
		}
	}

	// TODO(loader): the guessed location can silently load the wrong payload
	// when the mirror hosts several agents; needs a digest on the source.
	guess := guessDirectLocation(src.Location)
	zlog.Warn("Embedded activation not observed, guessing direct location", "source", src.ID, "guess", guess)

	return l.fetchAndActivate(ctx, src, guess, start)
}

func (l *Loader) pollActive(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)

	for time.Now().Before(deadline) {
		if l.slot.IsActive() {
			return true
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}

	return l.slot.IsActive()
}

func extractEmbedded(doc []byte) ([]byte, bool) {
	s := string(doc)

	i := strings.Index(s, embeddedStart)
	if i < 0 {
		return nil, false
	}

	s = s[i+len(embeddedStart):]

	j := strings.Index(s, embeddedEnd)
	if j < 0 {
		return nil, false
	}

	return []byte(s[:j]), true
}

func guessDirectLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location + "/gateway-agent.js"
	}

	if i := strings.LastIndexByte(u.Path, '/'); i >= 0 {
		u.Path = u.Path[:i]
	}
	u.Path += "/gateway-agent.js"

	return u.String()
}

func fail(src source.Source, start time.Time, location string, err error) LoadResult {
	zlog.Debug("Bootstrap source failed", "source", src.ID, "error", err.Error())

	return LoadResult{
		Source:   src,
		Location: location,
		Error:    err.Error(),
		Latency:  time.Since(start),
	}
}
