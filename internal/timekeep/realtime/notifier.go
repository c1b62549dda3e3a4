// Package realtime pushes session signals to connected agents and admin
// dashboards over websockets. Delivery is best effort: an envelope is
// queued to each live connection without blocking and dropped when the
// connection is slow or gone.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

// Event names the notifier emits on its own.
const (
	EventConnected = "connected"
	EventPong      = "pong"
	EventError     = "error"
)

// Envelope is the wire form of every server message.
type Envelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Authenticator resolves a bearer token to the caller's scope.
type Authenticator interface {
	Authenticate(r *http.Request, token string) (tenancy.Scope, error)
}

type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows
	// any origin. Non-browser clients send no Origin and are always allowed.
	AllowedOrigins []string

	SendQueueSize     int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Inbound messages per second and burst, per connection.
	InboundRate  rate.Limit
	InboundBurst int
}

func (o *Options) setDefaults() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.InboundRate <= 0 {
		o.InboundRate = 5
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = 20
	}
}

// Notifier owns every realtime connection of this process. Each tenant has
// two channels: everyone, and the admins among them (by role at connect time).
type Notifier struct {
	auth     Authenticator
	writeErr tenancy.ErrorWriter
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	opts     Options

	mu        sync.RWMutex
	accepting bool
	tenants   map[string]*tenantChannels

	conns sync.WaitGroup
}

func New(auth Authenticator, writeErr tenancy.ErrorWriter, log *slog.Logger, m *metrics.Metrics, clock clockwork.Clock, opts Options) *Notifier {
	opts.setDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		auth:     auth,
		writeErr: writeErr,
		log:      log,
		metrics:  m,
		clock:    clock,
		opts:     opts,
		tenants:  make(map[string]*tenantChannels),
	}
}

// Init starts accepting connections.
func (n *Notifier) Init() {
	n.mu.Lock()
	n.accepting = true
	n.mu.Unlock()
	n.log.Info("realtime notifier started")
}

// Shutdown stops accepting, closes every connection with a going-away
// status and waits for their goroutines until ctx expires.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	n.accepting = false
	var all []*client
	for _, tc := range n.tenants {
		for _, c := range tc.all {
			all = append(all, c)
		}
	}
	n.mu.Unlock()

	for _, c := range all {
		go c.close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		n.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.log.Info("realtime notifier stopped", "closed_connections", len(all))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyTenant queues event to every connection of tenantID.
func (n *Notifier) NotifyTenant(tenantID, event string, data any) int {
	return n.broadcast(event, data, func() []*client {
		return n.members(tenantID, func(tc *tenantChannels) map[string]*client { return tc.all }, "")
	})
}

// NotifyAdmins queues event to the admin connections of tenantID.
func (n *Notifier) NotifyAdmins(tenantID, event string, data any) int {
	return n.broadcast(event, data, func() []*client {
		return n.members(tenantID, func(tc *tenantChannels) map[string]*client { return tc.admins }, "")
	})
}

// NotifyPrincipal queues event to every device principalID has connected.
func (n *Notifier) NotifyPrincipal(tenantID, principalID, event string, data any) int {
	return n.broadcast(event, data, func() []*client {
		return n.members(tenantID, func(tc *tenantChannels) map[string]*client { return tc.all }, principalID)
	})
}

// Connections reports how many connections tenantID currently has.
func (n *Notifier) Connections(tenantID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if tc, ok := n.tenants[tenantID]; ok {
		return len(tc.all)
	}
	return 0
}

func (n *Notifier) broadcast(event string, data any, targets func() []*client) int {
	msg, err := n.encode(event, data)
	if err != nil {
		n.log.Error("failed to encode realtime envelope", "event", event, "error", err)
		return 0
	}

	queued := 0
	for _, c := range targets() {
		if c.enqueue(msg) {
			queued++
			n.metrics.RealtimeQueued(event)
		} else {
			n.metrics.RealtimeDropped(event)
		}
	}
	return queued
}

func (n *Notifier) encode(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:     event,
		Data:      data,
		Timestamp: n.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) members(tenantID string, pick func(*tenantChannels) map[string]*client, principalID string) []*client {
	n.mu.RLock()
	defer n.mu.RUnlock()

	tc, ok := n.tenants[tenantID]
	if !ok {
		return nil
	}
	set := pick(tc)
	out := make([]*client, 0, len(set))
	for _, c := range set {
		if principalID != "" && c.principalID != principalID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// join registers c unless the notifier is shutting down.
func (n *Notifier) join(c *client) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.accepting {
		return false
	}

	tc, ok := n.tenants[c.tenantID]
	if !ok {
		tc = newTenantChannels()
		n.tenants[c.tenantID] = tc
	}
	tc.add(c)
	n.conns.Add(1)
	n.metrics.RealtimeConnected()
	return true
}

func (n *Notifier) leave(c *client) {
	n.mu.Lock()
	if tc, ok := n.tenants[c.tenantID]; ok {
		tc.remove(c.id)
		if tc.empty() {
			delete(n.tenants, c.tenantID)
		}
	}
	n.mu.Unlock()

	n.metrics.RealtimeDisconnected()
	n.conns.Done()
}

func (n *Notifier) isAccepting() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.accepting
}
