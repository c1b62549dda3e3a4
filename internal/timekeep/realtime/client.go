package realtime

import (
	"sync"

	"github.com/coder/websocket"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
)

// client is one websocket connection. send is never closed so concurrent
// broadcasters cannot panic; done signals the connection goroutines.
type client struct {
	id          string
	tenantID    string
	principalID string
	deviceID    string
	admin       bool

	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(scope tenancy.Scope, conn *websocket.Conn, queue int) *client {
	tid, _ := scope.TenantID()
	return &client{
		id:          idx.New(),
		tenantID:    tid,
		principalID: scope.PrincipalID(),
		deviceID:    scope.DeviceID(),
		admin:       scope.IsAdmin(),
		conn:        conn,
		send:        make(chan []byte, queue),
		done:        make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the queue is full or the
// client is closing.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
