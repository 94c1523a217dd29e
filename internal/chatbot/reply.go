package chatbot

import (
	"sync"

	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

// ReplyService is the request-local bridge between one running chatbot and
// the client that spawned it. The orchestrator writes provisional parts and
// client actions into it; the dispatcher's poller drains them into the
// response channel on every flush edge. The stop flag travels the other way:
// the client sets it and the orchestrator's streaming callback observes it.
type ReplyService struct {
	mu sync.Mutex

	// provisional is the in-flight rendering of the current completion,
	// replaced wholesale on every partial parse.
	provisional []models.BotMessagePart
	// committed accumulates the parts of finished steps.
	committed []models.BotMessagePart
	actions   []models.ClientAction

	tools []models.ToolDecl

	flush *signals.Edge
	stop  *signals.Flag
}

// NewReplyService creates a reply service carrying the request's declared
// client tools.
func NewReplyService(tools []models.ToolDecl) *ReplyService {
	return &ReplyService{
		tools: tools,
		flush: signals.NewEdge(),
		stop:  signals.NewFlag(),
	}
}

// ClientTool returns the declaration of a client tool by name.
func (r *ReplyService) ClientTool(name string) (models.ToolDecl, bool) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return models.ToolDecl{}, false
}

// ClientTools returns the declared client tools.
func (r *ReplyService) ClientTools() []models.ToolDecl {
	return append([]models.ToolDecl(nil), r.tools...)
}

// PutProvisional replaces the provisional parts and fires the flush edge.
func (r *ReplyService) PutProvisional(parts []models.BotMessagePart) {
	r.mu.Lock()
	r.provisional = append(r.provisional[:0:0], parts...)
	r.mu.Unlock()
	r.flush.Fire()
}

// Commit moves the given parts into the committed reply and clears the
// provisional rendering they superseded.
func (r *ReplyService) Commit(parts []models.BotMessagePart) {
	r.mu.Lock()
	r.committed = append(r.committed, parts...)
	r.provisional = nil
	r.mu.Unlock()
	r.flush.Fire()
}

// AddAction queues a client action and fires the flush edge.
func (r *ReplyService) AddAction(a models.ClientAction) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
	r.flush.Fire()
}

// Snapshot returns the committed parts, the current provisional tail, and
// the queued actions, as one consistent view.
func (r *ReplyService) Snapshot() (committed, provisional []models.BotMessagePart, actions []models.ClientAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BotMessagePart(nil), r.committed...),
		append([]models.BotMessagePart(nil), r.provisional...),
		append([]models.ClientAction(nil), r.actions...)
}

// Committed returns the committed parts.
func (r *ReplyService) Committed() []models.BotMessagePart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BotMessagePart(nil), r.committed...)
}

// Actions returns the queued client actions.
func (r *ReplyService) Actions() []models.ClientAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ClientAction(nil), r.actions...)
}

// Flush is the edge the dispatcher's poller waits on.
func (r *ReplyService) Flush() *signals.Edge { return r.flush }

// Stop is the client-initiated stop flag.
func (r *ReplyService) Stop() *signals.Flag { return r.stop }
