package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

const (
	maxInboundBytes = 4 << 10
	maxPingFailures = 3
)

// ConnectedInfo is the payload of the connected event.
type ConnectedInfo struct {
	ConnectionID string `json:"connection_id"`
	TenantID     string `json:"tenant_id"`
	PrincipalID  string `json:"principal_id"`
	DeviceID     string `json:"device_id"`
	Admin        bool   `json:"admin"`
}

// ErrorInfo is the payload of the error event.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type inbound struct {
	Event string `json:"event"`
}

// ServeHTTP authenticates the caller and upgrades to a websocket. The
// token comes from the Authorization header or, for browsers that cannot
// set headers on an upgrade, the access_token query parameter.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := slogx.FromContext(r.Context())

	if !n.isAccepting() {
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Realtime is not accepting connections.")
		return
	}

	token, ok := httpx.BearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		n.writeErr(w, r, fmt.Errorf("%w: missing bearer token", domain.ErrInvalidToken))
		return
	}
	scope, err := n.auth.Authenticate(r, token)
	if err != nil {
		n.writeErr(w, r, err)
		return
	}

	if err := n.checkOrigin(r); err != nil {
		l.Warn("realtime origin rejected", "origin", r.Header.Get("Origin"), "error", err)
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "Origin not allowed.")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     originPatterns(n.opts.AllowedOrigins),
		InsecureSkipVerify: allowsAnyOrigin(n.opts.AllowedOrigins),
	})
	if err != nil {
		l.Warn("realtime upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	c := newClient(scope, conn, n.opts.SendQueueSize)
	if !n.join(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer n.leave(c)

	l = l.With(slog.String("connection_id", c.id))
	l.Info("realtime connected", slog.Bool("admin", c.admin))

	n.serve(r.Context(), l, c)
	l.Info("realtime disconnected")
}

func (n *Notifier) serve(parent context.Context, l *slog.Logger, c *client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	n.send(c, EventConnected, ConnectedInfo{
		ConnectionID: c.id,
		TenantID:     c.tenantID,
		PrincipalID:  c.principalID,
		DeviceID:     c.deviceID,
		Admin:        c.admin,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.writeLoop(ctx, l, c)
	}()
	go func() {
		defer wg.Done()
		n.heartbeat(ctx, l, c)
	}()

	n.readLoop(ctx, l, c)

	c.close(websocket.StatusNormalClosure, "bye")
	cancel()
	wg.Wait()
}

func (n *Notifier) readLoop(ctx context.Context, l *slog.Logger, c *client) {
	limiter := rate.NewLimiter(n.opts.InboundRate, n.opts.InboundBurst)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if !expectedReadErr(err) {
				l.Info("realtime read failed", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			l.Warn("realtime inbound rate exceeded")
			c.close(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if typ != websocket.MessageText {
			n.send(c, EventError, ErrorInfo{Code: "unsupported", Message: "text frames only"})
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			n.send(c, EventError, ErrorInfo{Code: "bad_json", Message: "invalid JSON"})
			continue
		}

		switch msg.Event {
		case "ping":
			n.send(c, EventPong, nil)
		default:
			n.send(c, EventError, ErrorInfo{Code: "unsupported", Message: fmt.Sprintf("unsupported event %q", msg.Event)})
		}
	}
}

func (n *Notifier) writeLoop(ctx context.Context, l *slog.Logger, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, n.opts.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				l.Info("realtime write failed", "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// heartbeat pings the peer; a run of failed pings closes the connection.
func (n *Notifier) heartbeat(ctx context.Context, l *slog.Logger, c *client) {
	t := n.clock.NewTicker(n.opts.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, n.opts.HeartbeatTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			l.Info("realtime ping failed", "failures", failures, "error", err)
			if failures >= maxPingFailures {
				c.close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// send queues a message for one client, counting drops like a broadcast.
func (n *Notifier) send(c *client, event string, data any) {
	msg, err := n.encode(event, data)
	if err != nil {
		return
	}
	if !c.enqueue(msg) {
		n.metrics.RealtimeDropped(event)
	}
}

func expectedReadErr(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

// checkOrigin applies the allowlist to browser requests. Requests without
// an Origin header come from native agents and pass.
func (n *Notifier) checkOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || allowsAnyOrigin(n.opts.AllowedOrigins) {
		return nil
	}
	host := originHost(origin)
	for _, a := range n.opts.AllowedOrigins {
		if origin == a || (host != "" && host == originHost(a)) {
			return nil
		}
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return nil
	}
	return fmt.Errorf("origin %q not in allowlist", origin)
}

func allowsAnyOrigin(allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept's host patterns from the allowlist
// so both checks agree. Accept matches against host:port.
func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			out = append(out, h, h+":*")
		}
	}
	return out
}
