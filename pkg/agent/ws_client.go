package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"contract-mesh/pkg/api"
	"contract-mesh/pkg/event"
)

// DefaultRedial is the pause between websocket reconnect attempts.
const DefaultRedial = 5 * time.Second

// wsClient keeps one websocket to the controller hub and feeds received
// events into the agent.
type wsClient struct {
	endpoint string
	token    string
	nodeID   string
	redial   time.Duration
	dialer   *websocket.Dialer
	handle   func(context.Context, event.Envelope) error
	log      zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// wireMessage mirrors api.WSMessage with a raw payload.
type wireMessage struct {
	Type    string          `json:"type"`
	NodeID  string          `json:"nodeId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newWSClient(controller, nodeID, token string, handle func(context.Context, event.Envelope) error, log zerolog.Logger) (*wsClient, error) {
	if controller == "" || nodeID == "" {
		return nil, fmt.Errorf("controller and node id are required")
	}
	u, err := url.Parse(controller)
	if err != nil {
		return nil, fmt.Errorf("parse controller url: %w", err)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	u.Scheme = scheme
	u.Path = "/api/v1/ws/node"
	q := u.Query()
	q.Set("nodeId", nodeID)
	u.RawQuery = q.Encode()
	return &wsClient{
		endpoint: u.String(),
		token:    token,
		nodeID:   nodeID,
		redial:   DefaultRedial,
		dialer:   websocket.DefaultDialer,
		handle:   handle,
		log:      log.With().Str("component", "ws").Logger(),
	}, nil
}

// run dials and reads until ctx ends, reconnecting after every drop.
func (c *wsClient) run(ctx context.Context) {
	for {
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.log.Warn().Err(err).Str("url", c.endpoint).Int("status", status).Msg("ws dial failed")
		} else {
			c.log.Info().Str("url", c.endpoint).Msg("ws connected to controller")
			c.serve(ctx, conn)
			c.log.Info().Dur("retry_in", c.redial).Msg("ws disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.redial):
		}
	}
}

func (c *wsClient) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != api.MsgEvent {
			c.log.Debug().Str("type", msg.Type).Msg("ws message ignored")
			continue
		}
		var env event.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			c.log.Warn().Err(err).Msg("malformed event envelope")
			continue
		}
		ack := map[string]any{"type": env.Type, "ok": true}
		if err := c.handle(ctx, env); err != nil {
			c.log.Warn().Err(err).Str("kind", string(env.Type)).Msg("event rejected")
			ack["ok"] = false
			ack["error"] = err.Error()
		}
		c.send(api.WSMessage{Type: api.MsgAck, NodeID: c.nodeID, Payload: ack})
	}
}

func (c *wsClient) send(msg api.WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Warn().Err(err).Msg("ws send failed")
	}
}

// ConnectController holds the event websocket open until ctx ends.
func (a *Agent) ConnectController(ctx context.Context, controller, token string) error {
	c, err := newWSClient(controller, a.id, token, a.receive, a.log)
	if err != nil {
		return err
	}
	if a.tls != nil {
		d := *websocket.DefaultDialer
		d.TLSClientConfig = a.tls
		c.dialer = &d
	}
	c.run(ctx)
	return nil
}
