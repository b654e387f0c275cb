package collab

import (
	"sync"

	"github.com/MrWong99/wordcut/internal/editor"
)

// Room is the set of peers editing one project.
type Room struct {
	id     string
	editor *editor.Editor

	mu          sync.Mutex
	peers       map[string]*peer
	unsubscribe func()
}

func newRoom(id string, ed *editor.Editor) *Room {
	r := &Room{id: id, editor: ed, peers: make(map[string]*peer)}
	r.unsubscribe = ed.Subscribe(r.broadcast)
	return r
}

func (r *Room) join(p *peer) {
	r.mu.Lock()
	r.peers[p.id] = p
	r.mu.Unlock()
}

// part removes p and returns the number of peers left.
func (r *Room) part(p *peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.id] == p {
		delete(r.peers, p.id)
	}
	return len(r.peers)
}

func (r *Room) close() {
	r.unsubscribe()
}

func (r *Room) snapshotPeers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// broadcast forwards a committed change to every peer except the one it
// came from. Changes without an op (take selection, reclassification,
// buffer) are announced as state messages so peers can refetch.
func (r *Room) broadcast(c editor.Change) {
	msg := Message{Type: MsgState, Version: c.Snapshot.Version, Change: string(c.Kind)}
	if c.Op != nil {
		msg = Message{
			Type:    MsgOp,
			Version: c.Snapshot.Version,
			Change:  string(c.Kind),
			Op: &Envelope{
				Origin:      c.Origin,
				BaseVersion: c.Snapshot.Version - 1,
				Anchor:      c.Anchor,
				AnchorIndex: c.AnchorIndex,
				Op:          *c.Op,
			},
		}
	}
	for _, p := range r.snapshotPeers() {
		if c.Origin != "" && p.id == c.Origin {
			continue
		}
		p.send(msg)
	}
}
