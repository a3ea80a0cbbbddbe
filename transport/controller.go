// Package transport implements the socket abstraction, key manager, and TCP
// handshake state machines the rest of voxhub builds on. It is grounded on
// the teacher's voice/udp (reconnect-capable UDP socket) and
// voice/voicegateway (Hello/Identify/Ready state machine) packages, adapted
// from a websocket+secretbox voice transport to the raw framed TCP/UDP
// wire.Packet protocol and RSA/AES-CBC handshake this project uses instead.
package transport

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	uberatomic "go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/wiresong/voxhub/internal/hooks"
	"github.com/wiresong/voxhub/wire"
)

// Mode selects the underlying transport a Controller drives.
type Mode int

const (
	ModeTCP Mode = iota
	ModeUDP
)

// Role distinguishes the two handshake parties. A server Controller accepts
// connections (TCP) or receives from many peers (UDP); a client Controller
// dials out to exactly one remote.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("transport: controller is closed")

// peerConn is the per-socket state a TCP Controller tracks for each
// connection: its own outbound sequence counter and, once authenticated,
// its client id. A client-role Controller has exactly one; a server-role
// Controller has one per accepted connection.
type peerConn struct {
	conn          net.Conn
	seq           uint32
	authenticated uberatomic.Bool
	clientID      wire.ClientID
	// connID is a correlation id for log lines, distinct from the wire
	// client_id (which spec.md §3 fixes as MD5(session_key) and isn't
	// known until the handshake completes).
	connID string
}

// Controller is a single abstraction spanning TCP and UDP, client and
// server roles, built around a shared *KeyManager. Exactly one pre-auth and
// one post-auth PacketQueue exist per Controller; inbound entries carry
// enough addressing (Entry.Socket / Entry.Addr) for callers to route by
// origin after the fact.
type Controller struct {
	mode Mode
	role Role
	keys *KeyManager

	PreAuth  *PacketQueue
	PostAuth *PacketQueue

	// useSpecialEncryption marks the control-plane server socket, which
	// additionally keys decryption by the packet's claimed origin even
	// though the controller itself has no single identity.
	useSpecialEncryption bool

	mu        sync.Mutex
	listener  net.Listener
	peers     map[net.Conn]*peerConn
	udpConn   net.PacketConn
	udpSeq    uint32
	udpPeers  map[wire.ClientID]net.Addr
	sendAddr  net.Addr
	closed    bool

	// selfID/hasSelfID record this controller's own client identity, set
	// via SetSelfID once known. Only a client-role UDP controller sets
	// this (mirroring client.py's udp_send.client_id/udp_recv.client_id
	// assignment after handshake); a server-role UDP controller has no
	// single identity and routeInbound falls back to the packet's claimed
	// origin for it instead.
	selfID    wire.ClientID
	hasSelfID bool

	limiter *rate.Limiter
	log     *slog.Logger

	OnNewClient        hooks.Registry[func(wire.ClientID)]
	OnNewControlClient hooks.Registry[func(wire.ClientID)]
	OnClientLost       hooks.Registry[func(wire.ClientID)]

	// OnAccept fires once per newly accepted TCP connection, before any
	// frame is read from it. The caller is expected to drive
	// ServerHandshake(ctx, conn, ...) against it; the controller itself
	// only frames and queues inbound bytes.
	OnAccept hooks.Registry[func(net.Conn)]
}

// NewController builds a Controller in the given mode/role sharing keys.
// limiter paces outbound sends (golang.org/x/time/rate, the same package
// the teacher uses for gateway identify pacing and websocket throttling);
// pass nil for no pacing.
func NewController(mode Mode, role Role, keys *KeyManager, limiter *rate.Limiter) *Controller {
	return &Controller{
		mode:     mode,
		role:     role,
		keys:     keys,
		PreAuth:  NewPacketQueue(),
		PostAuth: NewPacketQueue(),
		peers:    make(map[net.Conn]*peerConn),
		udpPeers: make(map[wire.ClientID]net.Addr),
		limiter:  limiter,
	}
}

// SetLog attaches a logger used for per-connection correlation-id log
// lines; nil (the default) disables this logging entirely.
func (c *Controller) SetLog(log *slog.Logger) { c.log = log }

// SetSelfID records this controller's own client identity. A client-role
// UDP controller calls this once its handshake completes so routeInbound
// can resolve its own decrypt key regardless of which peer's audio is
// arriving — the Go equivalent of client.py stamping
// self.udp_send.client_id / self.udp_recv.client_id after the handshake.
// A server-role UDP controller must not call this: it has no single
// identity, and routeInbound instead falls back to each packet's claimed
// origin, mirroring socket_controller.py's "self.client_id is None" branch.
func (c *Controller) SetSelfID(id wire.ClientID) {
	c.mu.Lock()
	c.selfID = id
	c.hasSelfID = true
	c.mu.Unlock()
}

// UseSpecialEncryption marks this controller as the control-plane server
// socket, per spec: its inbound decrypt step keys by the packet's claimed
// origin in addition to the controller's own identity.
func (c *Controller) UseSpecialEncryption() { c.useSpecialEncryption = true }

// Bind starts a UDP controller listening on host:port.
func (c *Controller) Bind(host string, port int) error {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Wrap(err, "transport: bind UDP")
	}
	c.mu.Lock()
	c.udpConn = conn
	c.mu.Unlock()
	return nil
}

// Connect dials a remote. For TCP it establishes the sole peer connection;
// for UDP it records the default send address and opens a local ephemeral
// socket.
func (c *Controller) Connect(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if c.mode == ModeTCP {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "transport: dial TCP")
		}
		connID := uuid.NewString()
		c.mu.Lock()
		c.peers[conn] = &peerConn{conn: conn, connID: connID}
		c.mu.Unlock()
		if c.log != nil {
			c.log.Debug("transport: dialed connection", "conn_id", connID, "addr", addr)
		}
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrap(err, "transport: resolve UDP address")
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return errors.Wrap(err, "transport: open UDP socket")
	}
	c.mu.Lock()
	c.udpConn = conn
	c.sendAddr = udpAddr
	c.mu.Unlock()
	return nil
}

// Listen begins accepting TCP connections.
func (c *Controller) Listen(host string, port int, backlog int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Wrap(err, "transport: listen TCP")
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	return nil
}

// LocalAddr returns the bound/listening/connected local address.
func (c *Controller) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		return c.listener.Addr()
	}
	if c.udpConn != nil {
		return c.udpConn.LocalAddr()
	}
	for conn := range c.peers {
		return conn.LocalAddr()
	}
	return nil
}

// Close tears down every owned socket and wakes any blocked GetPacket call.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var err error
	if c.listener != nil {
		err = c.listener.Close()
	}
	if c.udpConn != nil {
		if e := c.udpConn.Close(); e != nil && err == nil {
			err = e
		}
	}
	for conn := range c.peers {
		conn.Close()
	}
	c.mu.Unlock()

	c.PreAuth.Close()
	c.PostAuth.Close()
	return err
}

// SoleConn returns the one peer connection a client-role Controller tracks,
// or false if Connect hasn't run yet (or the role is server-side, which
// tracks many).
func (c *Controller) SoleConn() (net.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.peers {
		return conn, true
	}
	return nil, false
}

func (c *Controller) snapshotAuthenticatedConns() []net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]net.Conn, 0, len(c.peers))
	for conn, p := range c.peers {
		if p.authenticated.Load() {
			out = append(out, conn)
		}
	}
	return out
}

// Start spawns the controller's background I/O: an acceptor loop for a
// server TCP controller, a reader loop bound to the sole socket otherwise.
func (c *Controller) Start(ctx context.Context) {
	switch {
	case c.mode == ModeTCP && c.role == RoleServer:
		go c.acceptLoop(ctx)
	case c.mode == ModeTCP && c.role == RoleClient:
		c.mu.Lock()
		var conn net.Conn
		for cc := range c.peers {
			conn = cc
		}
		c.mu.Unlock()
		if conn != nil {
			go c.readLoopTCP(ctx, conn)
		}
	case c.mode == ModeUDP:
		go c.readLoopUDP(ctx)
	}
}

func (c *Controller) acceptLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		ln := c.listener
		c.mu.Unlock()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		connID := uuid.NewString()
		c.mu.Lock()
		c.peers[conn] = &peerConn{conn: conn, connID: connID}
		c.mu.Unlock()
		if c.log != nil {
			c.log.Debug("transport: accepted connection", "conn_id", connID, "remote", conn.RemoteAddr())
		}

		go c.readLoopTCP(ctx, conn)
		c.OnAccept.Each(func(fn func(net.Conn)) { fn(conn) })
	}
}

// readLoopTCP implements the inbound path for one TCP connection: decode a
// framed packet, resolve a key, decrypt, and route to the pre- or
// post-auth queue.
func (c *Controller) readLoopTCP(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()

		c.mu.Lock()
		p := c.peers[conn]
		delete(c.peers, conn)
		c.mu.Unlock()

		if c.log != nil && p != nil {
			c.log.Debug("transport: connection closed", "conn_id", p.connID)
		}

		if id, ok := c.keys.ForgetSocket(conn); ok {
			c.OnClientLost.Each(func(fn func(wire.ClientID)) { fn(id) })
		} else if p != nil && p.authenticated.Load() {
			c.OnClientLost.Each(func(fn func(wire.ClientID)) { fn(p.clientID) })
		}
	}()

	for {
		pkt, err := wire.DecodeStream(conn)
		if err != nil {
			return
		}
		c.routeInbound(pkt, conn, nil)
	}
}

func (c *Controller) readLoopUDP(ctx context.Context) {
	buf := make([]byte, 65536)
	for {
		c.mu.Lock()
		conn := c.udpConn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			continue
		}

		pkt, err := wire.DecodeBytes(append([]byte(nil), buf[:n]...))
		if err != nil {
			continue
		}
		c.routeInbound(pkt, nil, addr)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// routeInbound implements spec.md §4.2's numbered inbound steps: resolve a
// decryption key, strip PKCS#7 padding, and append to whichever queue
// matches the source's auth state.
func (c *Controller) routeInbound(pkt *wire.Packet, conn net.Conn, addr net.Addr) {
	var authenticated bool
	var lookupID wire.ClientID

	if conn != nil {
		c.mu.Lock()
		p := c.peers[conn]
		c.mu.Unlock()

		lookupID = pkt.Origin
		if p != nil {
			authenticated = p.authenticated.Load()
			if authenticated && !c.useSpecialEncryption {
				lookupID = p.clientID
			}
		}
	} else {
		// UDP has no per-socket handshake state of its own; every packet
		// goes to the post-auth queue and is decrypted whenever the
		// KeyManager holds a session for the lookup id (REGISTER_UDP
		// bindings are not consulted here). A client-role UDP controller
		// knows its own identity once SetSelfID has run and decrypts
		// under that key regardless of which peer's audio arrives; a
		// server-role UDP controller never calls SetSelfID and falls
		// back to the packet's claimed origin instead, matching
		// socket_controller.py's "self.client_id is None" branch.
		authenticated = true
		c.mu.Lock()
		hasSelfID, selfID := c.hasSelfID, c.selfID
		c.mu.Unlock()
		if hasSelfID {
			lookupID = selfID
		} else {
			lookupID = pkt.Origin
		}
	}

	if len(pkt.Payload) > 0 {
		if _, recv, err := c.keys.GetCiphers(lookupID); err == nil {
			plain, err := recv.Decrypt(pkt.Payload)
			if err != nil {
				return // DecryptFailure: drop silently per spec
			}
			pkt.Payload = plain
		}
	}

	entry := &Entry{Packet: pkt, Socket: conn, Addr: addr}

	if authenticated || c.mode == ModeUDP {
		if dropped := c.PostAuth.Push(entry); dropped != nil {
			_ = dropped // oldest entry discarded; audio freshness over delivery
		}
	} else {
		c.PreAuth.Push(entry)
	}
}

// SendOptions configures one SendPacket call.
type SendOptions struct {
	Sequence *uint16
	To       net.Conn
	Addr     net.Addr
	ClientID *wire.ClientID
	Origin   *wire.ClientID
}

// SendPacket frames and sends payload. If ClientID is set and the
// KeyManager holds a session for it, payload is AES-CBC/PKCS#7 encrypted
// under that identity's send cipher before framing; without ClientID the
// payload is sent in cleartext, even on an authenticated connection. For
// TCP, To selects a specific connection; if To is nil, a ClientID with a
// registered socket selects that socket, and otherwise a server controller
// broadcasts the same frame to every authenticated connection, snapshotted
// without holding PostAuth's lock. For UDP, Addr selects the destination,
// falling back to the pre-set default send address.
func (c *Controller) SendPacket(opcode wire.Opcode, payload []byte, opts SendOptions) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return err
		}
	}

	origin := wire.ClientID{}
	if opts.Origin != nil {
		origin = *opts.Origin
	} else if opts.ClientID != nil {
		origin = *opts.ClientID
	}

	body := payload
	if opts.ClientID != nil {
		send, _, err := c.keys.GetCiphers(*opts.ClientID)
		if err == nil {
			enc, err := send.Encrypt(payload)
			if err != nil {
				return errors.Wrap(err, "transport: encrypt outbound payload")
			}
			body = enc
		}
	}

	if c.mode == ModeUDP {
		addr := opts.Addr
		if addr == nil {
			c.mu.Lock()
			addr = c.sendAddr
			c.mu.Unlock()
		}
		if addr == nil {
			return errors.New("transport: no UDP destination address")
		}
		seq := c.nextUDPSeq(opts.Sequence)
		frame, err := wire.Encode(opcode, body, time.Now(), seq, origin)
		if err != nil {
			return err
		}
		c.mu.Lock()
		conn := c.udpConn
		c.mu.Unlock()
		if conn == nil {
			return ErrClosed
		}
		_, err = conn.WriteTo(frame, addr)
		return err
	}

	if opts.To != nil {
		return c.sendTCPTo(opts.To, opcode, body, opts.Sequence, origin)
	}

	if opts.ClientID != nil {
		sock, err := c.keys.SocketForID(*opts.ClientID)
		if err == nil {
			if conn, ok := sock.(net.Conn); ok {
				return c.sendTCPTo(conn, opcode, body, opts.Sequence, origin)
			}
		}
	}

	if c.role == RoleServer {
		var firstErr error
		for _, conn := range c.snapshotAuthenticatedConns() {
			if err := c.sendTCPTo(conn, opcode, body, opts.Sequence, origin); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	c.mu.Lock()
	var conn net.Conn
	for cc := range c.peers {
		conn = cc
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return c.sendTCPTo(conn, opcode, body, opts.Sequence, origin)
}

func (c *Controller) sendTCPTo(conn net.Conn, opcode wire.Opcode, body []byte, seqOverride *uint16, origin wire.ClientID) error {
	c.mu.Lock()
	p := c.peers[conn]
	c.mu.Unlock()

	var seq uint16
	if seqOverride != nil {
		seq = *seqOverride
	} else if p != nil {
		seq = uint16(atomic.AddUint32(&p.seq, 1) - 1)
	}

	frame, err := wire.Encode(opcode, body, time.Now(), seq, origin)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return errors.Wrap(err, "transport: write TCP frame")
}

func (c *Controller) nextUDPSeq(override *uint16) uint16 {
	if override != nil {
		return *override
	}
	return uint16(atomic.AddUint32(&c.udpSeq, 1) - 1)
}

// GetPacket pops the first entry matching check from the post-auth queue
// (or the pre-auth queue, during handshake), blocking until one is
// available, the queue closes, or ctx is done.
func (c *Controller) GetPacket(ctx context.Context, check func(*Entry) bool, inAuth bool) (*Entry, error) {
	if inAuth {
		return c.PreAuth.Get(ctx, check)
	}
	return c.PostAuth.Get(ctx, check)
}

// MarkAuthenticated records that conn completed the handshake as id,
// switching its future inbound traffic into the post-auth queue.
func (c *Controller) MarkAuthenticated(conn net.Conn, id wire.ClientID) {
	c.mu.Lock()
	p := c.peers[conn]
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.clientID = id
	p.authenticated.Store(true)
}

// RegisterUDPPeer binds id to addr for future UDP sends, per the
// REGISTER_UDP handshake step.
func (c *Controller) RegisterUDPPeer(id wire.ClientID, addr net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.udpPeers[id] = addr
}

// UDPPeerAddr looks up the address registered for id.
func (c *Controller) UDPPeerAddr(id wire.ClientID) (net.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.udpPeers[id]
	return addr, ok
}
