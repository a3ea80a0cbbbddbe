package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/wiresong/voxhub/internal/seccrypto"
	"github.com/wiresong/voxhub/wire"
)

// ErrHandshakeAborted is returned by ServerHandshake when the AES_CHECK
// challenge does not match, after it has sent ABRT and closed the
// connection. An ABRT sent by the peer is not detected: each handshake
// step waits only for its expected opcode until ctx is done.
var ErrHandshakeAborted = errors.New("transport: handshake aborted")

// aesKeyMessageSize is the fixed plaintext size of the AES_KEY message body:
// a 16-byte key, a 16-byte client id, and a 16-byte IV.
const aesKeyMessageSize = 16 + wire.ClientIDSize + 16

func matchOpcode(op wire.Opcode) func(*Entry) bool {
	return func(e *Entry) bool { return e.Packet.Opcode == op }
}

// ClientHandshake runs the client-initiator side of the handshake over conn,
// which must already be registered with c (e.g. via Connect). On success it
// registers the resulting session with the shared KeyManager and marks conn
// authenticated.
func (c *Controller) ClientHandshake(ctx context.Context, conn net.Conn) (wire.ClientID, error) {
	send := func(op wire.Opcode, payload []byte) error {
		return c.SendPacket(op, payload, SendOptions{To: conn})
	}
	recv := func(op wire.Opcode) (*Entry, error) {
		return c.GetPacket(ctx, matchOpcode(op), true)
	}

	if err := send(wire.OpHello, nil); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send HELLO")
	}
	if _, err := recv(wire.OpACK); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await ACK after HELLO")
	}

	priv, err := seccrypto.GenerateRSAKeyPair()
	if err != nil {
		return wire.ClientID{}, err
	}
	pub := seccrypto.MarshalPublicKeyDER(&priv.PublicKey)
	if err := send(wire.OpRSAKey, pub); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send RSA_KEY")
	}

	aesKeyEntry, err := recv(wire.OpAESKey)
	if err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await AES_KEY")
	}

	plain, err := seccrypto.DecryptPKCS1v15(priv, aesKeyEntry.Packet.Payload)
	if err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: decrypt AES_KEY")
	}
	if len(plain) != aesKeyMessageSize {
		return wire.ClientID{}, errors.New("transport: AES_KEY plaintext has unexpected length")
	}

	key := append([]byte(nil), plain[0:16]...)
	var clientID wire.ClientID
	copy(clientID[:], plain[16:16+wire.ClientIDSize])
	iv := append([]byte(nil), plain[16+wire.ClientIDSize:aesKeyMessageSize]...)

	sendCipher, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		return wire.ClientID{}, err
	}
	recvCipher, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		return wire.ClientID{}, err
	}

	checkCT, err := sendCipher.EncryptNoPad(clientID[:])
	if err != nil {
		return wire.ClientID{}, err
	}
	if err := send(wire.OpAESCheck, checkCT); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send AES_CHECK")
	}

	if _, err := recv(wire.OpACK); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await ACK after AES_CHECK")
	}

	c.keys.Register(&Session{
		ClientID: clientID,
		Send:     sendCipher,
		Recv:     recvCipher,
		Key:      key,
		IV:       iv,
		Socket:   conn,
	})
	c.MarkAuthenticated(conn, clientID)

	return clientID, nil
}

// ServerHandshake runs the server-responder side of the handshake, bound to
// one accepted connection. On success it registers the session, marks conn
// authenticated, and fires OnNewClient (and, if control is true,
// OnNewControlClient) for any listener (e.g. the session manager).
func (c *Controller) ServerHandshake(ctx context.Context, conn net.Conn, control bool) (wire.ClientID, error) {
	send := func(op wire.Opcode, payload []byte) error {
		return c.SendPacket(op, payload, SendOptions{To: conn})
	}
	recv := func(op wire.Opcode) (*Entry, error) {
		return c.GetPacket(ctx, matchOpcode(op), true)
	}
	abort := func() {
		_ = send(wire.OpAbort, nil)
		conn.Close()
	}

	if _, err := recv(wire.OpHello); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await HELLO")
	}
	if err := send(wire.OpACK, nil); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send ACK for HELLO")
	}

	rsaKeyEntry, err := recv(wire.OpRSAKey)
	if err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await RSA_KEY")
	}
	peerPub, err := seccrypto.ParsePublicKeyDER(rsaKeyEntry.Packet.Payload)
	if err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: parse peer RSA_KEY")
	}

	key, err := seccrypto.RandomBytes(16)
	if err != nil {
		return wire.ClientID{}, err
	}
	iv, err := seccrypto.RandomBytes(16)
	if err != nil {
		return wire.ClientID{}, err
	}
	clientID := GenerateClientID(key)

	sendCipher, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		return wire.ClientID{}, err
	}
	recvCipher, err := seccrypto.NewAESCBC(key, iv)
	if err != nil {
		return wire.ClientID{}, err
	}

	plain := make([]byte, 0, aesKeyMessageSize)
	plain = append(plain, key...)
	plain = append(plain, clientID[:]...)
	plain = append(plain, iv...)

	ciphertext, err := seccrypto.EncryptPKCS1v15(peerPub, plain)
	if err != nil {
		return wire.ClientID{}, err
	}
	if err := send(wire.OpAESKey, ciphertext); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send AES_KEY")
	}

	checkEntry, err := recv(wire.OpAESCheck)
	if err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: await AES_CHECK")
	}

	got, err := recvCipher.DecryptNoPad(checkEntry.Packet.Payload)
	var gotID wire.ClientID
	if err == nil {
		copy(gotID[:], got)
	}
	if err != nil || gotID != clientID {
		abort()
		return wire.ClientID{}, ErrHandshakeAborted
	}

	c.keys.Register(&Session{
		ClientID: clientID,
		Send:     sendCipher,
		Recv:     recvCipher,
		Key:      key,
		IV:       iv,
		Socket:   conn,
	})
	c.MarkAuthenticated(conn, clientID)

	id := clientID
	if err := c.SendPacket(wire.OpACK, nil, SendOptions{ClientID: &id}); err != nil {
		return wire.ClientID{}, errors.Wrap(err, "transport: send final ACK")
	}

	c.OnNewClient.Each(func(fn func(wire.ClientID)) { fn(clientID) })
	if control {
		c.OnNewControlClient.Each(func(fn func(wire.ClientID)) { fn(clientID) })
	}

	return clientID, nil
}
