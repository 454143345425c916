package bus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/protocol"
)

const busPath = "/bus"

// joinFrame is the first message a client sends after connecting.
type joinFrame struct {
	Group string `json:"group"`
	Role  string `json:"role"`
	ID    string `json:"id"`
}

type peerConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Gorilla connections allow one concurrent writer.
func (p *peerConn) send(env protocol.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(env)
}

// Hub is the coordinator-hosted side of the bus. Peers join by dialing
// the hub's address and identifying themselves with a join frame; every
// envelope they send lands in a single inbox drained by ReceiveOnce.
type Hub struct {
	group    string
	log      *logging.Logger
	server   *http.Server
	listener net.Listener
	inbox    chan protocol.Envelope
	done     chan struct{}

	mu     sync.Mutex
	peers  map[string]*peerConn
	closed bool
}

// ListenHub starts a hub for the given group on addr (host:port, port 0
// picks a free one).
func ListenHub(addr, group string, log *logging.Logger) (*Hub, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: listen %s: %w", addr, err)
	}

	h := &Hub{
		group:    group,
		log:      log,
		listener: listener,
		inbox:    make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
		peers:    make(map[string]*peerConn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(busPath, h.handleJoin)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("bus server stopped", "error", err)
		}
	}()
	return h, nil
}

// Addr reports the hub's listen address.
func (h *Hub) Addr() string {
	return h.listener.Addr().String()
}

func (h *Hub) handleJoin(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	var frame joinFrame
	if err := conn.ReadJSON(&frame); err != nil {
		h.log.Warn("join frame read failed", "error", err)
		conn.Close()
		return
	}
	if frame.Group != h.group || frame.ID == "" {
		h.log.Warn("rejecting join", "group", frame.Group, "id", frame.ID)
		conn.Close()
		return
	}

	peer := &peerConn{id: frame.ID, conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.peers[frame.ID] = peer
	h.mu.Unlock()
	h.log.Info("peer joined", "id", frame.ID, "role", frame.Role)

	go h.readLoop(peer)
}

func (h *Hub) readLoop(peer *peerConn) {
	defer func() {
		h.mu.Lock()
		if h.peers[peer.id] == peer {
			delete(h.peers, peer.id)
		}
		h.mu.Unlock()
		peer.conn.Close()
	}()
	for {
		var env protocol.Envelope
		if err := peer.conn.ReadJSON(&env); err != nil {
			select {
			case <-h.done:
			default:
				h.log.Info("peer departed", "id", peer.id, "error", err)
			}
			return
		}
		// The registered identity is authoritative for Source.
		env.Source = peer.id
		select {
		case h.inbox <- env:
		case <-h.done:
			return
		}
	}
}

// WaitForPeers blocks until at least n peers have joined or ctx ends.
func (h *Hub) WaitForPeers(ctx context.Context, n int) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(h.Peers()) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bus: waiting for %d peers: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Peers lists connected peer identities in stable order.
func (h *Hub) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) snapshot() []*peerConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*peerConn, 0, len(h.peers))
	for _, peer := range h.peers {
		conns = append(conns, peer)
	}
	return conns
}

// Broadcast sends the envelope to every connected peer. Write failures
// are logged and skipped so one bad peer cannot block the fan-out.
func (h *Hub) Broadcast(env protocol.Envelope) error {
	if h.isClosed() {
		return ErrClosed
	}
	for _, peer := range h.snapshot() {
		if err := peer.send(env); err != nil {
			h.log.Warn("broadcast write failed", "peer", peer.id, "error", err)
		}
	}
	return nil
}

// Scatter sends each envelope to its addressed peer. An unknown peer is
// an error.
func (h *Hub) Scatter(msgs []Addressed) error {
	if h.isClosed() {
		return ErrClosed
	}
	for _, msg := range msgs {
		h.mu.Lock()
		peer, ok := h.peers[msg.Peer]
		h.mu.Unlock()
		if !ok {
			return fmt.Errorf("bus: scatter to unknown peer %q", msg.Peer)
		}
		if err := peer.send(msg.Envelope); err != nil {
			return fmt.Errorf("bus: scatter to %q: %w", msg.Peer, err)
		}
	}
	return nil
}

func (h *Hub) ReceiveOnce(timeout time.Duration) (protocol.Envelope, error) {
	if timeout <= 0 {
		select {
		case env := <-h.inbox:
			return env, nil
		case <-h.done:
			return protocol.Envelope{}, ErrClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-h.inbox:
		return env, nil
	case <-timer.C:
		return protocol.Envelope{}, ErrReceiveTimeout
	case <-h.done:
		return protocol.Envelope{}, ErrClosed
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close disconnects all peers and stops the server.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	peers := make([]*peerConn, 0, len(h.peers))
	for _, peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	close(h.done)
	for _, peer := range peers {
		peer.conn.Close()
	}
	return h.server.Close()
}
