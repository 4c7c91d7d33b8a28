package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"contract-mesh/pkg/event"
	"contract-mesh/pkg/model"
)

// ErrNotConnected is returned by Notify for nodes without a live websocket.
var ErrNotConnected = errors.New("node not connected")

// WSMessage is the envelope exchanged with nodes over the websocket.
type WSMessage struct {
	Type    string      `json:"type"`              // event, ack, log
	NodeID  string      `json:"nodeId,omitempty"`  // source/target node
	Payload interface{} `json:"payload,omitempty"` // arbitrary JSON
}

const (
	MsgEvent = "event"
	MsgAck   = "ack"
	MsgLog   = "log"
)

// nodeConn serializes writes; gorilla connections allow one writer at a time.
type nodeConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *nodeConn) write(ctx context.Context, msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(msg)
}

// WSHub maintains node connections keyed by node ID and delivers events
// over them. It implements event.Notifier.
type WSHub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.RWMutex
	nodes map[string]*nodeConn
}

func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   log.With().Str("component", "wshub").Logger(),
		nodes: map[string]*nodeConn{},
	}
}

// HandleNodeWS upgrades and stores the connection for a node; expects ?nodeId=xxx
func (h *WSHub) HandleNodeWS(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("nodeId")
	if nodeID == "" {
		http.Error(w, "nodeId required", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("node_id", nodeID).Msg("ws upgrade failed")
		return
	}
	c := &nodeConn{ws: ws}
	h.mu.Lock()
	if old, ok := h.nodes[nodeID]; ok {
		_ = old.ws.Close()
	}
	h.nodes[nodeID] = c
	h.mu.Unlock()
	h.log.Info().Str("node_id", nodeID).Msg("node ws connected")
	go h.readLoop(nodeID, c)
}

// Connected reports whether nodeID has a live connection.
func (h *WSHub) Connected(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.nodes[nodeID]
	return ok
}

// Notify sends an event envelope to the node if connected.
func (h *WSHub) Notify(ctx context.Context, node model.Node, env event.Envelope) error {
	h.mu.RLock()
	c := h.nodes[node.ID]
	h.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	if err := c.write(ctx, WSMessage{Type: MsgEvent, NodeID: node.ID, Payload: env}); err != nil {
		h.log.Warn().Err(err).Str("node_id", node.ID).Msg("ws send failed")
		return err
	}
	h.log.Debug().Str("node_id", node.ID).Str("kind", string(env.Type)).Msg("ws event sent")
	return nil
}

func (h *WSHub) readLoop(nodeID string, c *nodeConn) {
	defer func() {
		_ = c.ws.Close()
		h.mu.Lock()
		if h.nodes[nodeID] == c {
			delete(h.nodes, nodeID)
		}
		h.mu.Unlock()
		h.log.Info().Str("node_id", nodeID).Msg("node ws disconnected")
	}()
	for {
		var msg WSMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case MsgAck:
			h.log.Debug().Str("node_id", nodeID).Interface("payload", msg.Payload).Msg("ws ack")
		case MsgLog:
			h.log.Info().Str("node_id", nodeID).Interface("payload", msg.Payload).Msg("node log")
		default:
			h.log.Debug().Str("node_id", nodeID).Str("type", msg.Type).Msg("ws message ignored")
		}
	}
}

// Close drops every connection.
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.nodes {
		_ = c.ws.Close()
		delete(h.nodes, id)
	}
}
