// Package voxserver composes the transport and session layers into the
// server endpoint: one authenticated TCP data listener sharing its port
// number with a UDP receive/send socket, plus a separate control-plane TCP
// listener, per spec.md §4.6. Grounded on the teacher's "gateway owns
// several independently-reconnecting sockets" shape in voice.Session,
// generalized from one voice connection to many concurrent client sockets.
package voxserver

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/wiresong/voxhub/audio"
	"github.com/wiresong/voxhub/internal/pace"
	"github.com/wiresong/voxhub/session"
	"github.com/wiresong/voxhub/transport"
	"github.com/wiresong/voxhub/wire"
)

// staleSessionInterval is how often the watchdog sweeps for quiet clients.
const staleSessionInterval = 30 * time.Second

// staleSessionThreshold is how long a client can go without an inbound
// packet before the sweep logs it as stale. Purely observational: spec.md
// §5 forbids protocol-layer timeouts, so nothing is evicted because of it.
const staleSessionThreshold = 2 * time.Minute

// Options configures a new Server.
type Options struct {
	Host         string
	DataPort     int
	ControlPort  int
	Backlog      int
	AudioLimiter *rate.Limiter
	Log          *slog.Logger
}

// Server is the server-side endpoint.
type Server struct {
	log *slog.Logger

	keys    *transport.KeyManager
	dataCtl *transport.Controller
	udpCtl  *transport.Controller
	ctlCtl  *transport.Controller

	sessions *session.Manager
	watchdog *pace.Watchdog

	activityMu sync.Mutex
	activity   map[wire.ClientID]*pace.AtomicTime

	opts Options
}

// New builds a Server ready to Start.
func New(opts Options) *Server {
	keys := transport.NewKeyManager()

	dataCtl := transport.NewController(transport.ModeTCP, transport.RoleServer, keys, nil)
	udpCtl := transport.NewController(transport.ModeUDP, transport.RoleServer, keys, opts.AudioLimiter)
	ctlCtl := transport.NewController(transport.ModeTCP, transport.RoleServer, keys, nil)
	ctlCtl.UseSpecialEncryption()

	dataCtl.SetLog(opts.Log)
	udpCtl.SetLog(opts.Log)
	ctlCtl.SetLog(opts.Log)

	mgr := session.NewManager(dataCtl, udpCtl, ctlCtl, opts.Log)
	mgr.Attach(dataCtl, ctlCtl)

	return &Server{
		log:      opts.Log,
		keys:     keys,
		dataCtl:  dataCtl,
		udpCtl:   udpCtl,
		ctlCtl:   ctlCtl,
		sessions: mgr,
		activity: make(map[wire.ClientID]*pace.AtomicTime),
		opts:     opts,
	}
}

// Start binds every socket, launches their accept/read loops, and starts
// the request-handling goroutines. It returns once binding succeeds;
// serving continues in the background until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.dataCtl.Listen(s.opts.Host, s.opts.DataPort, s.opts.Backlog); err != nil {
		return errors.Wrap(err, "voxserver: listen TCP data port")
	}
	if err := s.udpCtl.Bind(s.opts.Host, s.opts.DataPort); err != nil {
		return errors.Wrap(err, "voxserver: bind UDP on data port")
	}
	if err := s.ctlCtl.Listen(s.opts.Host, s.opts.ControlPort, s.opts.Backlog); err != nil {
		return errors.Wrap(err, "voxserver: listen TCP control port")
	}

	s.dataCtl.Start(ctx)
	s.udpCtl.Start(ctx)
	s.ctlCtl.Start(ctx)

	s.dataCtl.OnAccept.Add(func(conn net.Conn) { go s.handshake(ctx, s.dataCtl, conn, false) })
	s.ctlCtl.OnAccept.Add(func(conn net.Conn) { go s.handshake(ctx, s.ctlCtl, conn, true) })
	go s.requestLoop(ctx)
	go s.audioLoop(ctx)

	s.watchdog = pace.NewWatchdog(staleSessionInterval, s.sweepStaleSessions)
	go s.watchdog.Start(ctx)

	return nil
}

// handshake runs ServerHandshake against one newly accepted connection,
// invoked off ctl's OnAccept hook. A server-role Controller has no
// handshake loop of its own (acceptLoop only frames and queues), so this
// is what drives the state machine for each connection.
func (s *Server) handshake(ctx context.Context, ctl *transport.Controller, conn net.Conn, control bool) {
	if _, err := ctl.ServerHandshake(ctx, conn, control); err != nil && s.log != nil {
		s.log.Debug("voxserver: handshake failed", "error", err)
	}
}

// requestLoop services SET_GATE/SET_COMP/SET_NAME/SET_ROOMS/REGISTER_UDP
// requests arriving on the authenticated data socket.
func (s *Server) requestLoop(ctx context.Context) {
	for {
		entry, err := s.dataCtl.GetPacket(ctx, func(e *transport.Entry) bool {
			switch e.Packet.Opcode {
			case wire.OpSetGate, wire.OpSetComp, wire.OpSetName, wire.OpSetRooms, wire.OpRegisterUDP:
				return true
			}
			return false
		}, false)
		if err != nil {
			return
		}
		s.touch(entry.Packet.Origin)
		s.handleRequest(entry)
	}
}

func (s *Server) handleRequest(entry *transport.Entry) {
	origin := entry.Packet.Origin

	switch entry.Packet.Opcode {
	case wire.OpRegisterUDP:
		if len(entry.Packet.Payload) < 2 || entry.Socket == nil {
			return
		}
		tcpAddr, ok := entry.Socket.RemoteAddr().(*net.TCPAddr)
		if !ok {
			return
		}
		port := int(binary.BigEndian.Uint16(entry.Packet.Payload))
		s.udpCtl.RegisterUDPPeer(origin, &net.UDPAddr{IP: tcpAddr.IP, Port: port})
	case wire.OpSetGate:
		if gp, ok := audio.DecodeGateParams(entry.Packet.Payload); ok {
			s.sessions.SetGate(origin, gp)
		}
	case wire.OpSetComp:
		if cp, ok := audio.DecodeCompressorParams(entry.Packet.Payload); ok {
			s.sessions.SetCompressor(origin, cp)
		}
	case wire.OpSetName:
		s.sessions.SetName(origin, string(entry.Packet.Payload))
	case wire.OpSetRooms:
		rooms := make([]int, len(entry.Packet.Payload))
		for i, b := range entry.Packet.Payload {
			rooms[i] = int(b)
		}
		s.sessions.SetRooms(origin, rooms)
	}
}

// audioLoop drains inbound UDP AUDIO packets and fans each out to its
// origin's room co-members and any registered monitor.
func (s *Server) audioLoop(ctx context.Context) {
	for {
		entry, err := s.udpCtl.GetPacket(ctx, func(e *transport.Entry) bool {
			return e.Packet.Opcode == wire.OpAudio
		}, false)
		if err != nil {
			return
		}
		s.touch(entry.Packet.Origin)
		s.sessions.FanOutAudio(entry.Packet.Origin, entry.Packet.Payload)
	}
}

func (s *Server) touch(id wire.ClientID) {
	s.activityMu.Lock()
	t, ok := s.activity[id]
	if !ok {
		t = &pace.AtomicTime{}
		s.activity[id] = t
	}
	s.activityMu.Unlock()
	t.Touch()
}

// sweepStaleSessions logs any client whose most recent packet predates
// staleSessionThreshold. Observational only, per pace's package doc: no
// protocol-layer timeout evicts a connection because of it.
func (s *Server) sweepStaleSessions(ctx context.Context) {
	if s.log == nil {
		return
	}
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	for id, t := range s.activity {
		if pace.Stale(t.Get(), staleSessionThreshold) {
			s.log.Warn("voxserver: client has gone quiet", "client_id", id)
		}
	}
}

// Close tears down every socket the server owns.
func (s *Server) Close() error {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	err1 := s.dataCtl.Close()
	err2 := s.udpCtl.Close()
	err3 := s.ctlCtl.Close()
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}
