// Package collab relays edits between collaborators of one project over
// WebSocket.
//
// Every connected peer joins the [Room] of its project. Ops a peer sends as
// an [Envelope] are applied through [editor.Editor.ApplyRemote], which
// re-anchors them by word key. Every committed op, local or remote, is
// forwarded to all other peers of the room. Conflict resolution beyond
// anchoring is out of scope.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/observe"
)

// Envelope carries one op between peers.
type Envelope struct {
	// Origin names the peer that made the op. The hub overwrites it with the
	// sending connection's peer id.
	Origin string `json:"origin"`

	// BaseVersion is the editor version the op was made against.
	BaseVersion uint64 `json:"baseVersion"`

	// Anchor is the key of the word at AnchorIndex when the op was made.
	Anchor      string `json:"anchor"`
	AnchorIndex int    `json:"anchorIndex"`

	Op edit.Op `json:"op"`
}

// Message types sent from the hub to peers.
const (
	MsgHello = "hello"
	MsgOp    = "op"
	MsgAck   = "ack"
	MsgState = "state"
	MsgError = "error"
)

// Message is a hub-to-peer frame.
type Message struct {
	Type    string    `json:"type"`
	Peer    string    `json:"peer,omitempty"`
	Version uint64    `json:"version"`
	Change  string    `json:"change,omitempty"`
	Op      *Envelope `json:"envelope,omitempty"`
	Error   string    `json:"error,omitempty"`
}

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

// Option configures a [Hub].
type Option func(*Hub)

// WithRateLimit sets the sustained ops per second and burst accepted per peer.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) { h.limit, h.burst = rate.Limit(perSecond), burst }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub owns the rooms of all projects. It is safe for concurrent use.
type Hub struct {
	metrics *observe.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
	limit rate.Limit
	burst int
}

// NewHub creates a Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms: make(map[string]*Room),
		limit: rate.Inf,
		burst: 1,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetRateLimit changes the per-peer limit for connected and future peers.
func (h *Hub) SetRateLimit(perSecond float64, burst int) {
	h.mu.Lock()
	h.limit, h.burst = rate.Limit(perSecond), burst
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		for _, p := range r.snapshotPeers() {
			p.limiter.SetLimit(rate.Limit(perSecond))
			p.limiter.SetBurst(burst)
		}
	}
}

// Peers returns the number of peers connected to project id.
func (h *Hub) Peers(id string) int {
	h.mu.Lock()
	r, ok := h.rooms[id]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return len(r.snapshotPeers())
}

// Serve upgrades the request to a WebSocket and runs the peer until it
// disconnects. projectID keys the room; ed is the project's editor. The
// optional "peer" query parameter names the peer.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, projectID string, ed *editor.Editor) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("collab: accept failed", "project_id", projectID, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	h.mu.Lock()
	p := &peer{
		id:      peerID,
		conn:    conn,
		outbox:  make(chan Message, outboxSize),
		limiter: rate.NewLimiter(h.limit, h.burst),
	}
	room := h.roomLocked(projectID, ed)
	room.join(p)
	h.mu.Unlock()

	ctx := observe.WithProject(r.Context(), projectID)
	h.metrics.CollabPeers.Add(ctx, 1)
	log := observe.Logger(ctx).With("peer", peerID)
	log.Info("collab: peer joined")

	defer func() {
		h.leave(projectID, room, p)
		h.metrics.CollabPeers.Add(context.WithoutCancel(ctx), -1)
		log.Info("collab: peer left")
	}()

	p.send(Message{Type: MsgHello, Peer: peerID, Version: ed.Snapshot().Version})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.writeLoop(ctx, cancel)

	err = h.readLoop(ctx, p, room)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Debug("collab: read loop ended", "err", err)
		conn.CloseNow()
	}
}

func (h *Hub) roomLocked(id string, ed *editor.Editor) *Room {
	if r, ok := h.rooms[id]; ok && r.editor == ed {
		return r
	}
	r := newRoom(id, ed)
	h.rooms[id] = r
	return r
}

func (h *Hub) leave(id string, r *Room, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.part(p) == 0 {
		r.close()
		if h.rooms[id] == r {
			delete(h.rooms, id)
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, p *peer, room *Room) error {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, p.conn, &env); err != nil {
			return err
		}
		if !p.limiter.Allow() {
			h.metrics.RecordRemoteOp(ctx, "rate_limited")
			p.send(Message{Type: MsgError, Version: room.editor.Snapshot().Version, Error: "rate limit exceeded"})
			continue
		}
		env.Origin = p.id
		snap, err := room.editor.ApplyRemote(editor.WithSource(ctx, "collab"), env.Origin, env.Op, env.Anchor, env.AnchorIndex)
		if err != nil {
			slog.Debug("collab: remote op rejected", "peer", p.id, "kind", env.Op.Kind(), "err", err)
			p.send(Message{Type: MsgError, Version: snap.Version, Error: err.Error()})
			continue
		}
		p.send(Message{Type: MsgAck, Version: snap.Version})
	}
}

type peer struct {
	id      string
	conn    *websocket.Conn
	outbox  chan Message
	limiter *rate.Limiter

	closeOnce sync.Once
}

// send queues m without blocking. A peer whose outbox is full is too slow to
// keep up and is disconnected.
func (p *peer) send(m Message) {
	select {
	case p.outbox <- m:
	default:
		p.closeOnce.Do(func() {
			// Close waits for the handshake; never block the committer.
			go p.conn.Close(websocket.StatusPolicyViolation, "peer too slow")
		})
	}
}

func (p *peer) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.outbox:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, p.conn, m)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}
