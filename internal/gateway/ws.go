package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// closeMissedHeartbeat is the WS close code used when a connection misses
// too many heartbeat pongs (spec §4.8).
const closeMissedHeartbeat = 4002

// clientFrame is every shape a client may send: the first frame carries
// token (WS auth per spec §4.8 — "client presents token as first frame");
// every later frame is a bare {"type":"ping"} or {"type":"pong"}.
type clientFrame struct {
	Token string `json:"token,omitempty"`
	Type  string `json:"type,omitempty"`
}

// ConnectionManager tracks live WebSocket connections and broadcasts job
// lifecycle events to the connection(s) belonging to a conversation.
// Adapted from the teacher's events.ConnectionManager, simplified: this
// runtime is single-process (spec's "single-user self-hosted tool" design
// note), so there is no NOTIFY/LISTEN cross-pod fan-out — broadcast only
// needs to reach this process's own connection table.
type ConnectionManager struct {
	tokens TokenStore

	mu          sync.RWMutex
	connections map[string]*wsConnection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // conversationID -> set of connection IDs

	rateLimit         int
	rateWindow        time.Duration
	heartbeatInterval time.Duration
	maxMissedPongs    int
	writeTimeout      time.Duration
}

type wsConnection struct {
	id     string
	conn   *websocket.Conn
	convID string

	ctx    context.Context
	cancel context.CancelFunc

	rateMu     sync.Mutex
	rateWindow time.Time
	rateCount  int

	missedPongs int
}

// NewConnectionManager constructs a ConnectionManager. rateLimit messages
// are allowed per rateWindow per connection (spec's "e.g. 60 msg/min").
func NewConnectionManager(tokens TokenStore, rateLimit int, rateWindow, heartbeatInterval time.Duration, maxMissedPongs int, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		tokens:            tokens,
		connections:       make(map[string]*wsConnection),
		channels:          make(map[string]map[string]bool),
		rateLimit:         rateLimit,
		rateWindow:        rateWindow,
		heartbeatInterval: heartbeatInterval,
		maxMissedPongs:    maxMissedPongs,
		writeTimeout:      writeTimeout,
	}
}

// HandleConnection drives one WebSocket connection's lifecycle. It blocks
// until the connection closes or authentication fails.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	convID, ok := m.authenticate(ctx, conn)
	if !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	c := &wsConnection{
		id:         uuid.NewString(),
		conn:       conn,
		convID:     convID,
		ctx:        ctx,
		cancel:     cancel,
		rateWindow: time.Now(),
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connected"})

	go m.heartbeat(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !m.checkRateLimit(c) {
			_ = conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			m.sendJSON(c, map[string]string{"type": "pong"})
		case "pong":
			c.missedPongs = 0
		}
	}
}

// authenticate consumes the first frame's token and resolves it to a
// conversation/session. The caller must reject the connection if ok is
// false.
func (m *ConnectionManager) authenticate(ctx context.Context, conn *websocket.Conn) (string, bool) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return "", false
	}
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Token == "" {
		return "", false
	}
	sessionID, ok, err := m.tokens.Consume(ctx, frame.Token)
	if err != nil || !ok {
		return "", false
	}
	return sessionID, true
}

// heartbeat periodically pings the connection and closes it once
// maxMissedPongs consecutive heartbeats go unanswered.
func (m *ConnectionManager) heartbeat(c *wsConnection) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.missedPongs >= m.maxMissedPongs {
				slog.Warn("gateway: closing websocket after missed heartbeats", "connectionId", c.id)
				_ = c.conn.Close(closeMissedHeartbeat, "missed heartbeat")
				c.cancel()
				return
			}
			c.missedPongs++
			m.sendJSON(c, map[string]string{"type": "ping"})
		}
	}
}

// checkRateLimit enforces the per-connection message rate limit.
func (m *ConnectionManager) checkRateLimit(c *wsConnection) bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	now := time.Now()
	if now.Sub(c.rateWindow) > m.rateWindow {
		c.rateWindow = now
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount <= m.rateLimit
}

func (m *ConnectionManager) register(c *wsConnection) {
	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()

	m.channelMu.Lock()
	if m.channels[c.convID] == nil {
		m.channels[c.convID] = make(map[string]bool)
	}
	m.channels[c.convID][c.id] = true
	m.channelMu.Unlock()
}

func (m *ConnectionManager) unregister(c *wsConnection) {
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	m.channelMu.Lock()
	if subs, ok := m.channels[c.convID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.channels, c.convID)
		}
	}
	m.channelMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// broadcast sends v to every connection subscribed to conversationID.
func (m *ConnectionManager) broadcast(conversationID string, v any) {
	m.channelMu.RLock()
	subs := m.channels[conversationID]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*wsConnection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.sendJSON(c, v)
	}
}

// BroadcastStatus sends a status{jobId,status} message.
func (m *ConnectionManager) BroadcastStatus(conversationID, jobID, status string) {
	m.broadcast(conversationID, map[string]string{"type": "status", "jobId": jobID, "status": status})
}

// BroadcastApprovalRequired sends an approval_required message carrying the
// plan, per-step risks, and the single-use nonce the client must echo back
// to /jobs/:id/approve.
func (m *ConnectionManager) BroadcastApprovalRequired(conversationID, jobID string, plan *axismsg.ExecutionPlan, risks []axismsg.StepResult, nonce string) {
	m.broadcast(conversationID, map[string]any{
		"type":  "approval_required",
		"jobId": jobID,
		"plan":  plan,
		"risks": risks,
		"metadata": map[string]string{
			"nonce": nonce,
		},
	})
}

// BroadcastResult sends a result{jobId,result} message.
func (m *ConnectionManager) BroadcastResult(conversationID, jobID string, result map[string]any) {
	m.broadcast(conversationID, map[string]any{"type": "result", "jobId": jobID, "result": result})
}

// BroadcastError sends an error{jobId,code,message} message.
func (m *ConnectionManager) BroadcastError(conversationID, jobID, code, message string) {
	m.broadcast(conversationID, map[string]string{"type": "error", "jobId": jobID, "code": code, "message": message})
}

// ActiveConnections reports how many WebSocket clients are currently
// connected (used by the health handler).
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) sendJSON(c *wsConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("gateway: failed to write websocket message", "connectionId", c.id, "error", err)
	}
}
