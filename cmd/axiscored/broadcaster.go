package main

import (
	"sync"

	"github.com/axiscore/axiscore/internal/gateway"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// broadcastHandle breaks the construction cycle between the orchestrator
// (which needs a Broadcaster) and the gateway.Server (which needs the
// orchestrator as its JobService, and only then exposes the
// ConnectionManager the orchestrator should broadcast through). The
// orchestrator is handed a handle immediately; main wires the real
// ConnectionManager into it once the gateway server exists.
type broadcastHandle struct {
	mu sync.RWMutex
	cm *gateway.ConnectionManager
}

func (b *broadcastHandle) bind(cm *gateway.ConnectionManager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cm = cm
}

func (b *broadcastHandle) get() *gateway.ConnectionManager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cm
}

func (b *broadcastHandle) BroadcastStatus(conversationID, jobID, status string) {
	if cm := b.get(); cm != nil {
		cm.BroadcastStatus(conversationID, jobID, status)
	}
}

func (b *broadcastHandle) BroadcastApprovalRequired(conversationID, jobID string, plan *axismsg.ExecutionPlan, risks []axismsg.StepResult, nonce string) {
	if cm := b.get(); cm != nil {
		cm.BroadcastApprovalRequired(conversationID, jobID, plan, risks, nonce)
	}
}

func (b *broadcastHandle) BroadcastResult(conversationID, jobID string, result map[string]any) {
	if cm := b.get(); cm != nil {
		cm.BroadcastResult(conversationID, jobID, result)
	}
}

func (b *broadcastHandle) BroadcastError(conversationID, jobID, code, message string) {
	if cm := b.get(); cm != nil {
		cm.BroadcastError(conversationID, jobID, code, message)
	}
}
