package gateway

import (
	"sync"

	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/wsutils"
)

// SessionHub maps live sessions onto their socket writers. It is the only
// place the coordination core touches a transport.
type SessionHub struct {
	mu       sync.RWMutex
	sessions map[protocol.SessionID]*wsutils.ThreadSafeWriter
}

func NewSessionHub() *SessionHub {
	return &SessionHub{sessions: make(map[protocol.SessionID]*wsutils.ThreadSafeWriter)}
}

func (h *SessionHub) Attach(sessionID protocol.SessionID, w *wsutils.ThreadSafeWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = w
}

func (h *SessionHub) Detach(sessionID protocol.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

func (h *SessionHub) writer(sessionID protocol.SessionID) (*wsutils.ThreadSafeWriter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, exist := h.sessions[sessionID]
	return w, exist
}

// Send implements protocol.Sender.
func (h *SessionHub) Send(sessionID protocol.SessionID, event string, payload any) error {
	w, exist := h.writer(sessionID)
	if !exist {
		return protocol.ErrSessionGone
	}

	message, err := protocol.NewSocketMessage(event, payload)
	if err != nil {
		return err
	}
	return w.WriteJSON(message)
}
