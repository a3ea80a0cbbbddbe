package session

import (
	"net"
	"testing"
	"time"

	"github.com/wiresong/voxhub/internal/seccrypto"
	"github.com/wiresong/voxhub/transport"
	"github.com/wiresong/voxhub/wire"
)

func idOf(b byte) wire.ClientID {
	var id wire.ClientID
	id[0] = b
	return id
}

func TestNewClientJoinsRoomZero(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a := idOf(1)

	m.onNewClient(a)

	recipients := m.Recipients(a)
	if len(recipients) != 0 {
		t.Fatalf("a lone client should have no recipients, got %v", recipients)
	}

	b := idOf(2)
	m.onNewClient(b)

	recipients = m.Recipients(a)
	if len(recipients) != 1 || recipients[0] != b {
		t.Fatalf("expected room-0 co-member b, got %v", recipients)
	}
}

func TestSetRoomsChangesMembershipExactly(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a, b, c := idOf(1), idOf(2), idOf(3)
	m.onNewClient(a)
	m.onNewClient(b)
	m.onNewClient(c)

	m.SetRooms(a, []int{5})
	m.SetRooms(b, []int{5})

	recipients := m.Recipients(a)
	if len(recipients) != 1 || recipients[0] != b {
		t.Fatalf("expected only b in room 5 with a, got %v", recipients)
	}

	// c stayed in room 0 alone once a and b left it.
	if got := m.Recipients(c); len(got) != 0 {
		t.Fatalf("expected c to have no co-members left in room 0, got %v", got)
	}
}

func TestOverlappingRoomsUnionRecipients(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a, b, c := idOf(1), idOf(2), idOf(3)
	m.onNewClient(a)
	m.onNewClient(b)
	m.onNewClient(c)

	m.SetRooms(a, []int{0, 1})
	m.SetRooms(b, []int{1})
	m.SetRooms(c, []int{0})

	recipients := m.Recipients(a)
	want := map[wire.ClientID]bool{b: true, c: true}
	if len(recipients) != 2 {
		t.Fatalf("expected a to hear both b (room 1) and c (room 0), got %v", recipients)
	}
	for _, r := range recipients {
		if !want[r] {
			t.Fatalf("unexpected recipient %v", r)
		}
	}
}

func TestMonitorAlwaysIncluded(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a, b, mon := idOf(1), idOf(2), idOf(9)
	m.onNewClient(a)
	m.onNewClient(b)
	m.SetMonitor(mon)

	recipients := m.Recipients(a)
	found := false
	for _, r := range recipients {
		if r == mon {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected monitor in recipients, got %v", recipients)
	}
}

func TestClientLostRemovesFromAllRooms(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a, b := idOf(1), idOf(2)
	m.onNewClient(a)
	m.onNewClient(b)

	m.onClientLost(a)

	if got := m.Recipients(b); len(got) != 0 {
		t.Fatalf("expected b alone after a left, got %v", got)
	}
	if got := m.Recipients(a); got != nil {
		t.Fatalf("expected Recipients for an unknown (removed) client to be nil, got %v", got)
	}
}

func TestSetNameTruncatesTo255Bytes(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a := idOf(1)
	m.onNewClient(a)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	m.SetName(a, string(long))

	m.mu.Lock()
	got := len(m.clients[a].Name)
	m.mu.Unlock()
	if got != 255 {
		t.Fatalf("expected name truncated to 255 bytes, got %d", got)
	}
}

func buildSession(t *testing.T, id wire.ClientID, conn net.Conn) *transport.Session {
	t.Helper()
	key, err := seccrypto.RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	iv, err := seccrypto.RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	send, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	recv, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	return &transport.Session{ClientID: id, Send: send, Recv: recv, Key: key, IV: iv, Socket: conn}
}

func extractID(payload []byte) wire.ClientID {
	var id wire.ClientID
	copy(id[:], payload)
	return id
}

func TestHistoryRecordsJoinAndLeaveInOrder(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	a := idOf(1)

	m.onNewClient(a)
	m.onClientLost(a)

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Opcode != wire.OpClientJoin || history[0].clientID() != a {
		t.Fatalf("expected entry 0 to be a's join, got opcode %s id %x", history[0].Opcode, history[0].clientID())
	}
	if history[1].Opcode != wire.OpClientLeave || history[1].clientID() != a {
		t.Fatalf("expected entry 1 to be a's leave, got opcode %s id %x", history[1].Opcode, history[1].clientID())
	}
}

func TestHistoryEvictsOldestPastCapacity(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)

	for i := 0; i < historyCapacity+10; i++ {
		id := idOf(1)
		id[1] = byte(i)
		id[2] = byte(i >> 8)
		m.onNewClient(id)
	}

	history := m.History()
	if len(history) != historyCapacity {
		t.Fatalf("expected history capped at %d entries, got %d", historyCapacity, len(history))
	}
	// The oldest 10 joins should have been evicted, so entry 0 corresponds
	// to the 11th client admitted (index 10).
	var want wire.ClientID
	want[0] = 1
	want[1] = byte(10)
	want[2] = byte(10 >> 8)
	if history[0].clientID() != want {
		t.Fatalf("expected oldest surviving entry to be client 10, got %x", history[0].clientID())
	}
}

// TestOnNewControlClientReplaysDepartedHistoryOnly exercises the promised
// history-replay behavior end to end: a newly connected control-plane peer
// gets the accurate live join for a still-present client, plus the
// historical join+leave for a client that has already departed — not a
// duplicate join for the client already covered by the live snapshot.
func TestOnNewControlClientReplaysDepartedHistoryOnly(t *testing.T) {
	keys := transport.NewKeyManager()
	ctlCtl := transport.NewController(transport.ModeTCP, transport.RoleServer, keys, nil)

	targetConn, readConn := net.Pipe()
	defer targetConn.Close()
	defer readConn.Close()

	targetID := idOf(9)
	sess := buildSession(t, targetID, targetConn)
	keys.Register(sess)

	m := NewManager(nil, nil, ctlCtl, nil)

	present, departed := idOf(1), idOf(2)
	m.onNewClient(present)
	m.onNewClient(departed)
	m.onClientLost(departed)

	type decoded struct {
		opcode wire.Opcode
		id     wire.ClientID
	}
	resCh := make(chan []decoded, 1)
	errCh := make(chan error, 1)
	go func() {
		var got []decoded
		for i := 0; i < 3; i++ {
			pkt, err := wire.DecodeStream(readConn)
			if err != nil {
				errCh <- err
				return
			}
			plain, err := sess.Recv.Decrypt(pkt.Payload)
			if err != nil {
				errCh <- err
				return
			}
			got = append(got, decoded{opcode: pkt.Opcode, id: extractID(plain)})
		}
		resCh <- got
	}()

	done := make(chan struct{})
	go func() {
		m.onNewControlClient(targetID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out calling onNewControlClient")
	}

	var got []decoded
	select {
	case got = <-resCh:
	case err := <-errCh:
		t.Fatalf("decode/decrypt error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading replayed frames")
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 replayed frames, got %d", len(got))
	}
	if got[0].opcode != wire.OpClientJoin || got[0].id != present {
		t.Fatalf("expected frame 0 to be the live JOIN for the present client, got %+v", got[0])
	}
	if got[1].opcode != wire.OpClientJoin || got[1].id != departed {
		t.Fatalf("expected frame 1 to be the historical JOIN for the departed client, got %+v", got[1])
	}
	if got[2].opcode != wire.OpClientLeave || got[2].id != departed {
		t.Fatalf("expected frame 2 to be the historical LEAVE for the departed client, got %+v", got[2])
	}
}
