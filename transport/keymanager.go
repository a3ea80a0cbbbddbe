package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/wiresong/voxhub/internal/seccrypto"
	"github.com/wiresong/voxhub/wire"
)

// ErrUnknownClient is returned when a lookup misses.
var ErrUnknownClient = errors.New("transport: unknown client id")

// Session holds the per-peer cryptographic material a KeyManager tracks
// once a handshake completes: independent send/recv AES-CBC ciphers (each
// side of the conversation uses its own cipher instance, though they share
// the same key/IV), plus the socket that owns the binding.
type Session struct {
	ClientID wire.ClientID
	Send     *seccrypto.AESCBCCipher
	Recv     *seccrypto.AESCBCCipher
	Key      []byte
	IV       []byte
	Socket   net.Conn
}

// KeyManager is the process-local map from client id to session key
// material and back to the owning socket. It is a pure lookup/registration
// surface: a single mutex, no per-packet hot path inside it. Callers take
// ciphers by value after one lookup rather than holding the manager's lock
// while they encrypt or decrypt.
type KeyManager struct {
	mu       sync.Mutex
	byClient map[wire.ClientID]*Session
	bySocket map[net.Conn]wire.ClientID
}

// NewKeyManager builds an empty manager.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		byClient: make(map[wire.ClientID]*Session),
		bySocket: make(map[net.Conn]wire.ClientID),
	}
}

// GenerateClientID derives the client id that identifies an AES key, as
// MD5(key). Both handshake roles must arrive at the same value from the
// same key for AES_CHECK to succeed.
func GenerateClientID(key []byte) wire.ClientID {
	return wire.DeriveClientID(key)
}

// Register binds a client id to its cipher pair and owning socket,
// replacing any prior binding for either the id or the socket.
func (m *KeyManager) Register(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byClient[sess.ClientID]; ok {
		delete(m.bySocket, old.Socket)
	}

	m.byClient[sess.ClientID] = sess
	m.bySocket[sess.Socket] = sess.ClientID
}

// GetCiphers returns the send/recv ciphers registered for id.
func (m *KeyManager) GetCiphers(id wire.ClientID) (send, recv *seccrypto.AESCBCCipher, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byClient[id]
	if !ok {
		return nil, nil, ErrUnknownClient
	}
	return sess.Send, sess.Recv, nil
}

// Session returns the full session record for id.
func (m *KeyManager) Session(id wire.ClientID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byClient[id]
	if !ok {
		return nil, ErrUnknownClient
	}
	return sess, nil
}

// SocketForID returns the socket registered for id.
func (m *KeyManager) SocketForID(id wire.ClientID) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byClient[id]
	if !ok {
		return nil, ErrUnknownClient
	}
	return sess.Socket, nil
}

// IDForSocket returns the client id registered for sock.
func (m *KeyManager) IDForSocket(sock net.Conn) (wire.ClientID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySocket[sock]
	if !ok {
		return wire.ClientID{}, ErrUnknownClient
	}
	return id, nil
}

// Forget removes every binding for id.
func (m *KeyManager) Forget(id wire.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byClient[id]
	if !ok {
		return
	}
	delete(m.byClient, id)
	delete(m.bySocket, sess.Socket)
}

// ForgetSocket removes every binding owned by sock, returning the client id
// that was bound to it, if any. Used when a socket is lost and the caller
// does not already know its client id.
func (m *KeyManager) ForgetSocket(sock net.Conn) (wire.ClientID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySocket[sock]
	if !ok {
		return wire.ClientID{}, false
	}
	delete(m.bySocket, sock)
	delete(m.byClient, id)
	return id, true
}
