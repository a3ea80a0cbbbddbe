// Package session implements the server-side session manager: per-client
// DSP parameters, room membership, the fan-out policy, and the
// control-plane CLIENT_JOIN/CLIENT_LEAVE protocol. It is driven entirely by
// hooks registered against one or more transport.Controller instances —
// spec.md §9's one-way redesign replacing the original's cyclic
// controller-back-pointer design, grounded on internal/hooks.Registry.
package session

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/wiresong/voxhub/audio"
	"github.com/wiresong/voxhub/transport"
	"github.com/wiresong/voxhub/wire"
)

// DefaultGateParams matches spec.md §3's listed defaults.
var DefaultGateParams = audio.GateParams{Attack: 154, Hold: 441, Release: 441, Threshold: 950}

// DefaultCompParams matches spec.md §3's listed defaults.
var DefaultCompParams = audio.CompressorParams{Attack: 44, Release: 4410, Threshold: 10000}

// clientState is the per-client record the manager tracks.
type clientState struct {
	Gate  audio.GateParams
	Comp  audio.CompressorParams
	Name  string
	Rooms map[int]struct{}
}

// historyCapacity bounds the in-memory join/leave ring buffer. Generous
// enough that a control surface connecting shortly after startup sees the
// whole session's churn; old entries are evicted from the front once full.
const historyCapacity = 256

// HistoryEntry is one append-only join/leave event, captured as the exact
// wire opcode/payload pair that was broadcast at the time. Storing the
// already-built frame (rather than a client id to re-derive it from) means
// replay works even after the referenced client's live state is gone.
// Grounded on original_source/voiplib/history.py's append-only event log.
type HistoryEntry struct {
	Opcode  wire.Opcode
	Payload []byte
}

// clientID returns the id embedded in the first ClientIDSize bytes of the
// entry's payload — both CLIENT_JOIN and CLIENT_LEAVE payloads lead with it.
func (h HistoryEntry) clientID() wire.ClientID {
	var id wire.ClientID
	copy(id[:], h.Payload)
	return id
}

// Manager is the server-side session manager. Room 0 always exists once any
// client is present; every tracked client belongs to at least one room.
type Manager struct {
	mu      sync.Mutex
	clients map[wire.ClientID]*clientState
	rooms   []map[wire.ClientID]struct{}
	monitor *wire.ClientID
	history []HistoryEntry
	dataCtl *transport.Controller
	udpCtl  *transport.Controller
	ctlCtl  *transport.Controller
	log     *slog.Logger
	nameCap int
}

// NewManager builds an empty manager. dataCtl is the authenticated TCP data
// controller used to push per-client parameter updates; udpCtl is the UDP
// controller fan-out re-emits audio on; ctlCtl is the control-plane TCP
// controller CLIENT_JOIN/CLIENT_LEAVE broadcast on.
func NewManager(dataCtl, udpCtl, ctlCtl *transport.Controller, log *slog.Logger) *Manager {
	m := &Manager{
		clients: make(map[wire.ClientID]*clientState),
		rooms:   []map[wire.ClientID]struct{}{{}}, // room 0 always exists
		dataCtl: dataCtl,
		udpCtl:  udpCtl,
		ctlCtl:  ctlCtl,
		log:     log,
		nameCap: 255,
	}
	return m
}

// Attach registers the manager's hooks against a data controller (the
// session-bearing TCP/UDP socket clients authenticate over) and, if ctl is
// non-nil, the control-plane controller's new-control-client hook.
func (m *Manager) Attach(dataCtl *transport.Controller, ctl *transport.Controller) {
	dataCtl.OnNewClient.Add(m.onNewClient)
	dataCtl.OnClientLost.Add(m.onClientLost)
	if ctl != nil {
		ctl.OnNewControlClient.Add(m.onNewControlClient)
	}
}

func (m *Manager) onNewClient(id wire.ClientID) {
	m.mu.Lock()
	_, known := m.clients[id]
	if !known {
		m.clients[id] = &clientState{
			Gate:  DefaultGateParams,
			Comp:  DefaultCompParams,
			Rooms: map[int]struct{}{0: {}},
		}
		m.rooms[0][id] = struct{}{}
	}
	state := m.clients[id]
	m.mu.Unlock()

	if !known {
		m.pushParams(id, state)
	}
	m.broadcastJoin(id)
}

// onNewControlClient replays the current roster to a freshly connected
// control-plane peer, then replays the history ring buffer's record of
// churn among clients that have already come and gone — more than the
// one-shot present-roster snapshot alone would show, per
// original_source/voiplib/history.py's purpose.
func (m *Manager) onNewControlClient(target wire.ClientID) {
	m.mu.Lock()
	ids := make([]wire.ClientID, 0, len(m.clients))
	present := make(map[wire.ClientID]struct{}, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
		present[id] = struct{}{}
	}
	history := append([]HistoryEntry(nil), m.history...)
	m.mu.Unlock()

	for _, id := range ids {
		m.sendJoinTo(id, target)
	}

	if m.ctlCtl == nil {
		return
	}
	t := target
	for _, h := range history {
		if _, stillPresent := present[h.clientID()]; stillPresent {
			continue // already covered by the accurate live snapshot above
		}
		_ = m.ctlCtl.SendPacket(h.Opcode, h.Payload, transport.SendOptions{ClientID: &t})
	}
}

// appendHistory records one join/leave frame in the ring buffer, evicting
// from the front once historyCapacity is exceeded.
func (m *Manager) appendHistory(opcode wire.Opcode, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryEntry{Opcode: opcode, Payload: payload})
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
}

// History returns a copy of the recorded join/leave event log, oldest
// first. Exposed for tests and any future control-surface query beyond the
// automatic on-connect replay.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history...)
}

func (m *Manager) onClientLost(id wire.ClientID) {
	m.mu.Lock()
	if _, ok := m.clients[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, id)
	for _, room := range m.rooms {
		delete(room, id)
	}
	m.mu.Unlock()

	m.appendHistory(wire.OpClientLeave, append([]byte(nil), id[:]...))

	if m.ctlCtl != nil {
		_ = m.ctlCtl.SendPacket(wire.OpClientLeave, id[:], transport.SendOptions{})
	}
}

// SetRooms grows the room list as needed and makes client's membership
// exactly equal roomIndices.
func (m *Manager) SetRooms(id wire.ClientID, roomIndices []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.clients[id]
	if !ok {
		return
	}

	for _, idx := range roomIndices {
		for len(m.rooms) <= idx {
			m.rooms = append(m.rooms, map[wire.ClientID]struct{}{})
		}
	}

	want := make(map[int]struct{}, len(roomIndices))
	for _, idx := range roomIndices {
		want[idx] = struct{}{}
	}

	for idx := range state.Rooms {
		if _, keep := want[idx]; !keep {
			delete(m.rooms[idx], id)
		}
	}
	for idx := range want {
		m.rooms[idx][id] = struct{}{}
	}
	state.Rooms = want
}

// SetName updates a client's display name, truncating to the ≤255-byte
// Latin-1 bound SET_NAME carries.
func (m *Manager) SetName(id wire.ClientID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.clients[id]; ok {
		if len(name) > m.nameCap {
			name = name[:m.nameCap]
		}
		state.Name = name
	}
}

// SetGate updates a client's noise gate parameters.
func (m *Manager) SetGate(id wire.ClientID, p audio.GateParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.clients[id]; ok {
		state.Gate = p
	}
}

// SetCompressor updates a client's compressor parameters.
func (m *Manager) SetCompressor(id wire.ClientID, p audio.CompressorParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.clients[id]; ok {
		state.Comp = p
	}
}

// SetMonitor registers a UDP monitor client id, added to every fan-out
// recipient set in addition to room co-members.
func (m *Manager) SetMonitor(id wire.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = &id
}

// Recipients computes the fan-out policy for a packet originating at id:
// the union of every room containing id, minus id itself, plus the UDP
// monitor if one is registered.
func (m *Manager) Recipients(id wire.ClientID) []wire.ClientID {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.clients[id]
	if !ok {
		return nil
	}

	set := make(map[wire.ClientID]struct{})
	for idx := range state.Rooms {
		if idx >= len(m.rooms) {
			continue
		}
		for peer := range m.rooms[idx] {
			if peer != id {
				set[peer] = struct{}{}
			}
		}
	}
	if m.monitor != nil && *m.monitor != id {
		set[*m.monitor] = struct{}{}
	}

	out := make([]wire.ClientID, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	return out
}

// FanOutAudio re-emits one inbound AUDIO payload to every recipient
// Recipients(origin) names, re-encrypted per recipient and addressed to
// whatever UDP endpoint that recipient last registered via REGISTER_UDP.
// A recipient with no registered UDP address is silently skipped.
func (m *Manager) FanOutAudio(origin wire.ClientID, payload []byte) {
	if m.udpCtl == nil {
		return
	}
	for _, recipient := range m.Recipients(origin) {
		addr, ok := m.udpCtl.UDPPeerAddr(recipient)
		if !ok {
			continue
		}
		id := recipient
		originID := origin
		if err := m.udpCtl.SendPacket(wire.OpAudio, payload, transport.SendOptions{
			Addr:     addr,
			ClientID: &id,
			Origin:   &originID,
		}); err != nil && m.log != nil {
			m.log.Debug("fan-out send failed", "recipient", recipient, "error", err)
		}
	}
}

func (m *Manager) pushParams(id wire.ClientID, state *clientState) {
	if m.dataCtl == nil {
		return
	}
	payload := make([]byte, 4*2)
	binary.BigEndian.PutUint16(payload[0:2], state.Gate.Attack)
	binary.BigEndian.PutUint16(payload[2:4], state.Gate.Hold)
	binary.BigEndian.PutUint16(payload[4:6], state.Gate.Release)
	binary.BigEndian.PutUint16(payload[6:8], state.Gate.Threshold)
	_ = m.dataCtl.SendPacket(wire.OpSetGate, payload, transport.SendOptions{ClientID: &id})

	comp := make([]byte, 3*2)
	binary.BigEndian.PutUint16(comp[0:2], state.Comp.Attack)
	binary.BigEndian.PutUint16(comp[2:4], state.Comp.Release)
	binary.BigEndian.PutUint16(comp[4:6], state.Comp.Threshold)
	_ = m.dataCtl.SendPacket(wire.OpSetComp, comp, transport.SendOptions{ClientID: &id})
}

func (m *Manager) joinPayload(id wire.ClientID) []byte {
	m.mu.Lock()
	state, ok := m.clients[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	gate, comp, name := state.Gate, state.Comp, state.Name
	rooms := make([]int, 0, len(state.Rooms))
	for idx := range state.Rooms {
		rooms = append(rooms, idx)
	}
	m.mu.Unlock()

	buf := make([]byte, 0, wire.ClientIDSize+7*2+1+len(rooms)+1+len(name))
	buf = append(buf, id[:]...)

	var params [7]uint16
	params[0], params[1], params[2], params[3] = gate.Attack, gate.Hold, gate.Release, gate.Threshold
	params[4], params[5], params[6] = comp.Attack, comp.Release, comp.Threshold
	for _, p := range params {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], p)
		buf = append(buf, b[:]...)
	}

	buf = append(buf, byte(len(rooms)))
	for _, idx := range rooms {
		buf = append(buf, byte(idx))
	}

	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)

	return buf
}

func (m *Manager) broadcastJoin(id wire.ClientID) {
	payload := m.joinPayload(id)
	if payload == nil {
		return
	}
	m.appendHistory(wire.OpClientJoin, payload)
	if m.ctlCtl == nil {
		return
	}
	_ = m.ctlCtl.SendPacket(wire.OpClientJoin, payload, transport.SendOptions{})
}

func (m *Manager) sendJoinTo(id wire.ClientID, target wire.ClientID) {
	if m.ctlCtl == nil {
		return
	}
	payload := m.joinPayload(id)
	if payload == nil {
		return
	}
	t := target
	_ = m.ctlCtl.SendPacket(wire.OpClientJoin, payload, transport.SendOptions{ClientID: &t})
}
