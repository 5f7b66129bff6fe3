package collaboration

import (
	"log"
	"sync"

	"docsync/internal/models"
)

// Registry is the process-wide session registry: room membership, per-document
// presence lists and the role cache that authorizes edits. It is constructed
// in main and injected, never ambient; restarting the process rebuilds it from
// scratch.
//
// Membership changes and broadcasts flow through a single FIFO command channel
// drained by one event-loop goroutine, so a registration enqueued before a
// broadcast is always visible to it, and a session removed from its room is
// never written to afterwards.
type Registry struct {
	rooms    map[string]map[*Session]bool
	commands chan command
	mu       sync.RWMutex

	// Presence: ordered online usernames per document, with per-username open
	// connection counts so a second connection neither duplicates the entry
	// nor removes it early.
	presence map[string][]string
	conns    map[string]map[string]int
	presMu   sync.Mutex

	// Role cache keyed docID:username. The single source of truth for whether
	// an incoming edit is accepted; the persisted collaborator role is written
	// through but never re-read per edit.
	roles  map[string]models.Role
	roleMu sync.RWMutex

	relay *Relay
	done  chan struct{} // closed by the loop once shutdown completes; gates late submissions
}

// BroadcastMessage is a frame addressed to one document room.
type BroadcastMessage struct {
	DocumentID string
	Message    []byte
	Sender     *Session // skipped during fan-out; nil reaches the whole room
}

// command carries exactly one pending registry operation.
type command struct {
	register   *Session
	unregister *Session
	broadcast  *BroadcastMessage
	shutdown   chan struct{} // terminal; closed by the loop once rooms are torn down
}

// NewRegistry creates a registry. relay may be nil for single-instance
// deployments.
func NewRegistry(relay *Relay) *Registry {
	r := &Registry{
		rooms:    make(map[string]map[*Session]bool),
		commands: make(chan command, 256),
		presence: make(map[string][]string),
		conns:    make(map[string]map[string]int),
		roles:    make(map[string]models.Role),
		relay:    relay,
		done:     make(chan struct{}),
	}
	if relay != nil {
		relay.deliver = r.deliverRemote
	}
	return r
}

// Start begins the registry event loop.
func (r *Registry) Start() {
	log.Println("🔄 Starting session registry...")

	go func() {
		for cmd := range r.commands {
			switch {
			case cmd.shutdown != nil:
				// Teardown runs on this goroutine, so no fan-out can be in
				// flight against a channel it closes.
				r.handleShutdown()
				close(r.done)
				close(cmd.shutdown)
				return
			case cmd.register != nil:
				r.handleRegister(cmd.register)
			case cmd.unregister != nil:
				r.handleUnregister(cmd.unregister)
			case cmd.broadcast != nil:
				r.handleBroadcast(cmd.broadcast)
			}
		}
	}()

	log.Println("✓ Session registry started")
}

// submit queues a command for the loop. After shutdown the loop is gone, so
// late traffic (disconnect defers unwinding, relay frames) is dropped rather
// than left to block on a channel nobody drains.
func (r *Registry) submit(cmd command) {
	select {
	case <-r.done:
	case r.commands <- cmd:
	}
}

// Register adds a joined session to its document room.
func (r *Registry) Register(s *Session) {
	r.submit(command{register: s})
}

// Unregister removes a session from its room and closes its send channel.
func (r *Registry) Unregister(s *Session) {
	r.submit(command{unregister: s})
}

// Broadcast fans a message out to a document room, skipping sender when
// non-nil. Local broadcasts are also published to the relay so rooms on other
// instances converge.
func (r *Registry) Broadcast(documentID string, message []byte, sender *Session) {
	if message == nil {
		return
	}
	r.submit(command{broadcast: &BroadcastMessage{DocumentID: documentID, Message: message, Sender: sender}})
	if r.relay != nil {
		r.relay.Publish(documentID, message)
	}
}

// deliverRemote injects a frame that arrived from another instance. It is
// fanned out locally but never re-published.
func (r *Registry) deliverRemote(documentID string, message []byte) {
	r.submit(command{broadcast: &BroadcastMessage{DocumentID: documentID, Message: message}})
}

func (r *Registry) handleRegister(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[session.DocID]
	if room == nil {
		room = make(map[*Session]bool)
		r.rooms[session.DocID] = room
		if r.relay != nil {
			r.relay.Subscribe(session.DocID)
		}
	}
	room[session] = true

	log.Printf("  Session %s joined document %s (total: %d connections)",
		session.ID, session.DocID, len(room))
}

func (r *Registry) handleUnregister(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[session.DocID]
	if !ok {
		return
	}
	if _, ok := room[session]; !ok {
		return
	}

	delete(room, session)
	close(session.Send)

	if len(room) == 0 {
		delete(r.rooms, session.DocID)
		if r.relay != nil {
			r.relay.Unsubscribe(session.DocID)
		}
	}

	log.Printf("  Session %s left document %s (remaining: %d connections)",
		session.ID, session.DocID, len(room))
}

func (r *Registry) handleBroadcast(msg *BroadcastMessage) {
	r.mu.RLock()
	room := r.rooms[msg.DocumentID]
	sessions := make([]*Session, 0, len(room))
	for session := range room {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	for _, session := range sessions {
		if msg.Sender != nil && session == msg.Sender {
			continue
		}
		select {
		case session.Send <- msg.Message:
		default:
			// Buffer full: the connection is slow or dead, drop it. Runs on
			// the loop goroutine, so the direct call cannot race a later
			// fan-out. Closing the socket trips ReadPump's read error, and
			// its disconnect path then clears presence and tells the room.
			log.Printf("⚠️  Session %s buffer full, closing connection", session.ID)
			r.handleUnregister(session)
			if session.Conn != nil {
				session.Conn.Close()
			}
		}
	}
}

// AddPresence records an online username and returns the updated ordered list.
// A username already online (another connection) is counted, not duplicated.
func (r *Registry) AddPresence(docID, username string) []string {
	r.presMu.Lock()
	defer r.presMu.Unlock()

	if r.conns[docID] == nil {
		r.conns[docID] = make(map[string]int)
	}
	r.conns[docID][username]++
	if r.conns[docID][username] == 1 {
		r.presence[docID] = append(r.presence[docID], username)
	}
	return append([]string(nil), r.presence[docID]...)
}

// RemovePresence drops one connection for the username and returns the updated
// list. The username stays listed while it has other open connections.
func (r *Registry) RemovePresence(docID, username string) []string {
	r.presMu.Lock()
	defer r.presMu.Unlock()

	counts := r.conns[docID]
	if counts != nil {
		counts[username]--
		if counts[username] <= 0 {
			delete(counts, username)
			list := r.presence[docID]
			for i, u := range list {
				if u == username {
					r.presence[docID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(counts) == 0 {
				delete(r.conns, docID)
				delete(r.presence, docID)
			}
		}
	}
	return append([]string(nil), r.presence[docID]...)
}

// CacheRole records the resolved role for a (document, username) pair. Takes
// effect for every session of that pair on its next event.
func (r *Registry) CacheRole(docID, username string, role models.Role) {
	r.roleMu.Lock()
	defer r.roleMu.Unlock()
	r.roles[docID+":"+username] = role
}

// CachedRole looks up the cached role for a (document, username) pair.
func (r *Registry) CachedRole(docID, username string) (models.Role, bool) {
	r.roleMu.RLock()
	defer r.roleMu.RUnlock()
	role, ok := r.roles[docID+":"+username]
	return role, ok
}

// Shutdown tears down every room and stops the event loop. It goes through
// the command channel like everything else: closing send channels from any
// other goroutine could race an in-flight fan-out. Blocks until the loop has
// finished; safe to call more than once.
func (r *Registry) Shutdown() {
	log.Println("🛑 Shutting down session registry...")

	ack := make(chan struct{})
	select {
	case r.commands <- command{shutdown: ack}:
		// The loop acks the first shutdown it sees; a concurrent caller's
		// command may never be drained, so done covers that case too.
		select {
		case <-ack:
		case <-r.done:
		}
	case <-r.done:
	}

	if r.relay != nil {
		r.relay.Close()
	}

	log.Println("✓ Session registry shutdown complete")
}

// handleShutdown closes every connection and empties the room table. Runs on
// the loop goroutine only.
func (r *Registry) handleShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		for session := range room {
			close(session.Send)
			if session.Conn != nil {
				session.Conn.Close()
			}
		}
	}
	r.rooms = make(map[string]map[*Session]bool)
}
