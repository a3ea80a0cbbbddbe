package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wiresong/voxhub/wire"
)

// TestTCPRouteInboundDecryptsAuthenticatedSender exercises routeInbound's
// TCP path: a frame encrypted under an already-authenticated peer's own
// key must come out the other side as plaintext on the post-auth queue.
func TestTCPRouteInboundDecryptsAuthenticatedSender(t *testing.T) {
	keys := NewKeyManager()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverCtl := NewController(ModeTCP, RoleServer, keys, nil)
	serverCtl.peers[serverConn] = &peerConn{conn: serverConn}

	sess := testSession(t, serverConn)
	keys.Register(sess)
	serverCtl.MarkAuthenticated(serverConn, sess.ClientID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go serverCtl.readLoopTCP(ctx, serverConn)

	plaintext := []byte("hello over tcp")
	enc, err := sess.Send.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := wire.Encode(wire.OpAudio, enc, time.Now(), 1, sess.ClientID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatal(err)
	}

	entry, err := serverCtl.GetPacket(ctx, func(e *Entry) bool { return e.Packet.Opcode == wire.OpAudio }, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Packet.Payload) != string(plaintext) {
		t.Fatalf("got %q, want %q", entry.Packet.Payload, plaintext)
	}
}

// TestUDPRouteInboundUsesSelfIDWhenSet exercises the bug this test was
// added to catch: a client-role UDP controller that has recorded its own
// identity via SetSelfID must decrypt relayed audio under that identity
// regardless of which peer's relayed origin the frame carries.
func TestUDPRouteInboundUsesSelfIDWhenSet(t *testing.T) {
	keys := NewKeyManager()

	serverUDP := NewController(ModeUDP, RoleServer, keys, nil)
	if err := serverUDP.Bind("127.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	defer serverUDP.Close()

	serverAddr, ok := serverUDP.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatal("expected a UDP local address")
	}

	clientUDP := NewController(ModeUDP, RoleClient, keys, nil)
	if err := clientUDP.Connect("127.0.0.1", serverAddr.Port); err != nil {
		t.Fatal(err)
	}
	defer clientUDP.Close()

	sess := testSession(t, nil)
	keys.Register(sess)
	clientUDP.SetSelfID(sess.ClientID)

	clientAddr, ok := clientUDP.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatal("expected a UDP local address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientUDP.Start(ctx)

	plaintext := []byte("relayed audio frame")
	relayedOrigin := GenerateClientID([]byte("a different sender's key"))
	recipient := sess.ClientID

	if err := serverUDP.SendPacket(wire.OpAudio, plaintext, SendOptions{
		Addr:     clientAddr,
		ClientID: &recipient,
		Origin:   &relayedOrigin,
	}); err != nil {
		t.Fatal(err)
	}

	entry, err := clientUDP.GetPacket(ctx, func(e *Entry) bool { return e.Packet.Opcode == wire.OpAudio }, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Packet.Payload) != string(plaintext) {
		t.Fatalf("got %q, want %q (SetSelfID should let the client decrypt under its own key)", entry.Packet.Payload, plaintext)
	}
	if entry.Packet.Origin != relayedOrigin {
		t.Fatalf("expected the relayed origin to survive decryption, got %x", entry.Packet.Origin)
	}
}

// TestUDPRouteInboundFallsBackToOriginWithoutSelfID exercises the
// server-role UDP path: a controller that never calls SetSelfID (because
// it has no single identity of its own) must decrypt inbound audio by the
// packet's claimed origin instead.
func TestUDPRouteInboundFallsBackToOriginWithoutSelfID(t *testing.T) {
	keys := NewKeyManager()

	serverUDP := NewController(ModeUDP, RoleServer, keys, nil)
	if err := serverUDP.Bind("127.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	defer serverUDP.Close()

	serverAddr, ok := serverUDP.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatal("expected a UDP local address")
	}

	senderUDP := NewController(ModeUDP, RoleClient, keys, nil)
	if err := senderUDP.Connect("127.0.0.1", serverAddr.Port); err != nil {
		t.Fatal(err)
	}
	defer senderUDP.Close()

	sess := testSession(t, nil)
	keys.Register(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	serverUDP.Start(ctx)

	plaintext := []byte("mic frame from the originating client")
	sender := sess.ClientID
	if err := senderUDP.SendPacket(wire.OpAudio, plaintext, SendOptions{ClientID: &sender}); err != nil {
		t.Fatal(err)
	}

	entry, err := serverUDP.GetPacket(ctx, func(e *Entry) bool { return e.Packet.Opcode == wire.OpAudio }, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Packet.Payload) != string(plaintext) {
		t.Fatalf("got %q, want %q (server should decrypt under the packet's claimed origin)", entry.Packet.Payload, plaintext)
	}
}
