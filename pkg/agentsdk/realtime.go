package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// readLimit bounds a single server message.
const readLimit = 64 << 10

// Subscription is an open realtime connection.
type Subscription struct {
	conn *websocket.Conn

	// Connected is the payload of the connected event the server sends
	// first.
	Connected json.RawMessage
}

// Subscribe opens the realtime channel and waits for the connected event.
func (s *Session) Subscribe(ctx context.Context) (*Subscription, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set(deviceHeader, s.deviceID)

	conn, resp, err := websocket.Dial(ctx, s.client.url("/v1/realtime"), &websocket.DialOptions{
		HTTPClient: s.client.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(resp.Body)
			return nil, parseErrorResponse(resp, body)
		}
		return nil, fmt.Errorf("failed to dial realtime: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sub := &Subscription{conn: conn}
	first, err := sub.Next(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	if first.Event != EventConnected {
		_ = sub.Close()
		return nil, fmt.Errorf("agentsdk: expected %s event, got %s", EventConnected, first.Event)
	}
	sub.Connected = first.Data
	return sub, nil
}

// Next blocks for the next server event.
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	var ev Event
	if err := wsjson.Read(ctx, sub.conn, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Ping asks the server for a pong event.
func (sub *Subscription) Ping(ctx context.Context) error {
	return wsjson.Write(ctx, sub.conn, map[string]string{"event": "ping"})
}

func (sub *Subscription) Close() error {
	return sub.conn.Close(websocket.StatusNormalClosure, "")
}
