// Package bridge implements the correlation-id message channel between the
// interception agent and the primary-context resolver.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/gateway"
)

var (
	// ErrNoClient is returned immediately when no primary-context client is
	// attached at send time.
	ErrNoClient = errors.New("no client attached")
	// ErrBridgeTimeout is returned when no reply arrived within the bridge
	// timeout. The correlation entry is discarded and any late reply ignored.
	ErrBridgeTimeout = errors.New("bridge timeout")
)

// Client is the primary-context endpoint. Send delivers one agent-to-client
// message; replies come back through (*Bridge).Resolve.
type Client interface {
	Send(ctx context.Context, msg gateway.Message) error
}

type pendingReply struct {
	ch      chan gateway.Reply
	created time.Time
}

// Bridge matches requests to replies strictly by correlation id. Each
// forwarded request owns a private reply channel, so out-of-order replies on
// different requests do not interfere.
type Bridge struct {
	mu      sync.RWMutex
	client  Client
	pending map[string]*pendingReply

	timeout time.Duration

	stopReaper chan struct{}
	stopOnce   sync.Once
}

// New returns a bridge with the given reply timeout.
func New(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	b := &Bridge{
		pending:    make(map[string]*pendingReply),
		timeout:    timeout,
		stopReaper: make(chan struct{}),
	}

	go b.reaper()

	return b
}

// Attach connects the primary-context client.
func (b *Bridge) Attach(c Client) {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	zlog.Info("Primary context client attached")
}

// Release detaches c only while it is still the attached client, so a
// closing connection cannot knock off its replacement. In-flight requests
// will time out.
func (b *Bridge) Release(c Client) {
	b.mu.Lock()
	current := b.client == c
	if current {
		b.client = nil
	}
	b.mu.Unlock()

	if current {
		zlog.Info("Primary context client detached")
	}
}

// Attached reports whether a client is reachable.
func (b *Bridge) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client != nil
}

// Pending returns the number of in-flight requests.
func (b *Bridge) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.pending)
}

// Forward sends one request to the primary context and awaits exactly one
// reply or the bridge timeout. No retries happen here.
func (b *Bridge) Forward(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client == nil {
		return nil, ErrNoClient
	}

	p := &pendingReply{
		ch:      make(chan gateway.Reply, 1),
		created: time.Now(),
	}

	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	msg := gateway.Message{
		Type:    gateway.MsgGatewayRequest,
		ID:      req.ID,
		Domain:  req.Domain,
		Path:    req.Path,
		Method:  req.Method,
		Headers: req.Headers,
	}

	if err := client.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send to primary context: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case reply := <-p.ch:
		if reply.Error != "" {
			return nil, fmt.Errorf("resolver rejected: %s", reply.Error)
		}

		return &gateway.Response{
			Status:  reply.Status,
			Headers: reply.Headers,
			Body:    reply.Body,
		}, nil
	case <-timer.C:
		zlog.Debug("Bridge reply timed out", "id", req.ID, "domain", req.Domain)
		return nil, ErrBridgeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify delivers a control message to the primary context.
func (b *Bridge) Notify(ctx context.Context, msg gateway.Message) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client == nil {
		return ErrNoClient
	}

	return client.Send(ctx, msg)
}

// Resolve delivers one reply to its waiting request. Late or unknown
// correlation ids are ignored and reported false.
func (b *Bridge) Resolve(reply gateway.Reply) bool {
	b.mu.RLock()
	p, ok := b.pending[reply.ID]
	b.mu.RUnlock()

	if !ok {
		zlog.Debug("Dropping reply with no pending request", "id", reply.ID)
		return false
	}

	select {
	case p.ch <- reply:
		return true
	default:
		return false
	}
}

// Stop stops the reaper.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopReaper)
	})
}

// reaper drops correlation entries abandoned past twice the bridge timeout.
// Forward normally cleans up after itself; this is the backstop.
func (b *Bridge) reaper() {
	ticker := time.NewTicker(b.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * b.timeout)

			b.mu.Lock()
			for id, p := range b.pending {
				if p.created.Before(cutoff) {
					delete(b.pending, id)
				}
			}
			b.mu.Unlock()
		case <-b.stopReaper:
			return
		}
	}
}
