// Package traders implements the reference-counted trader registry: one
// Trader per (connection, claimed name), kept alive by a strong reference
// from its owning session plus one per open order, and destroyed once
// every reference is released.
package traders

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rishavpaul/bourse/internal/accounts"
	"github.com/rishavpaul/bourse/internal/protocol"
)

// ErrCapacity is returned by Login when the registry is full.
var ErrCapacity = errors.New("traders: at capacity")

// ErrAlreadyLoggedIn is returned by Login when name is already bound to a
// different live connection.
var ErrAlreadyLoggedIn = errors.New("traders: name already logged in")

// Trader is one logged-in participant: a live connection bound to a
// claimed name and its account, kept alive by reference count.
type Trader struct {
	Name      string
	Account   *accounts.Account
	LogID     uuid.UUID

	mu       sync.Mutex
	conn     net.Conn
	refCount int
	loggedIn bool
}

// send writes a single frame to this trader's connection. Errors are
// returned to the caller, who decides whether they are fatal (the
// trader's own session) or swallowed (broadcast to other traders).
func (t *Trader) send(hdr protocol.Header, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loggedIn || t.conn == nil {
		return nil
	}
	return protocol.Send(t.conn, hdr, payload)
}

// SendAck sends an ACK frame carrying status.
func (t *Trader) SendAck(status protocol.StatusInfo) error {
	payload := protocol.EncodeStatusInfo(status)
	return t.send(protocol.Header{Type: protocol.TypeAck, Size: uint16(len(payload))}, payload)
}

// SendNack sends an empty NACK frame.
func (t *Trader) SendNack() error {
	return t.send(protocol.Header{Type: protocol.TypeNack}, nil)
}

// SendNotify sends one of the POSTED/CANCELED/BOUGHT/SOLD/TRADED frames.
func (t *Trader) SendNotify(frameType uint8, n protocol.NotifyInfo) error {
	payload := protocol.EncodeNotifyInfo(n)
	return t.send(protocol.Header{Type: frameType, Size: uint16(len(payload))}, payload)
}

// Registry is the bounded-capacity set of currently-live traders, keyed
// internally by connection.
type Registry struct {
	capacity int

	mu      sync.RWMutex
	byConn  map[net.Conn]*Trader
	byName  map[string]*Trader
}

// NewRegistry creates a registry bounded at capacity concurrent traders.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		byConn:   make(map[net.Conn]*Trader, capacity),
		byName:   make(map[string]*Trader, capacity),
	}
}

// Login binds conn to name, creating a new Trader with one strong
// reference (held by the caller's session) if one does not already
// exist. Fails with ErrAlreadyLoggedIn if name is bound to a different
// live connection, or ErrCapacity if the registry is full.
func (r *Registry) Login(conn net.Conn, name string, account *accounts.Account) (*Trader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		existing.mu.Lock()
		sameConn := existing.loggedIn && existing.conn == conn
		stillLive := existing.loggedIn
		existing.mu.Unlock()
		if stillLive && !sameConn {
			return nil, ErrAlreadyLoggedIn
		}
		if sameConn {
			return existing, nil
		}
	}
	if len(r.byConn) >= r.capacity {
		return nil, ErrCapacity
	}

	t := &Trader{
		Name:    name,
		Account: account,
		LogID:   uuid.New(),
		conn:    conn,
		refCount: 1,
		loggedIn: true,
	}
	r.byConn[conn] = t
	r.byName[name] = t
	return t, nil
}

// Lookup returns the trader currently bound to conn, if any.
func (r *Registry) Lookup(conn net.Conn) (*Trader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byConn[conn]
	return t, ok
}

// Ref increments t's reference count; why is advisory and used only in
// log fields.
func (r *Registry) Ref(t *Trader, why string) {
	t.mu.Lock()
	t.refCount++
	t.mu.Unlock()
}

// Unref decrements t's reference count and, if it reaches zero, removes
// t from the registry entirely.
func (r *Registry) Unref(t *Trader, why string) {
	t.mu.Lock()
	t.refCount--
	drop := t.refCount <= 0
	t.mu.Unlock()
	if !drop {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[t.Name] == t {
		delete(r.byName, t.Name)
	}
	delete(r.byConn, t.conn)
}

// Logout releases the session's own strong reference, removes the trader
// from the set of logged-in traders, and marks it as no longer attached to
// a live connection. The Trader handle
// itself survives — per the reference-count model — until Unref brings
// the count to zero (e.g. once its remaining open orders finish or are
// cancelled).
func (r *Registry) Logout(t *Trader) {
	r.mu.Lock()
	t.mu.Lock()
	if r.byConn[t.conn] == t {
		delete(r.byConn, t.conn)
	}
	t.loggedIn = false
	t.conn = nil
	t.mu.Unlock()
	r.mu.Unlock()
	r.Unref(t, "logout")
}

// Broadcast sends the given frame to every currently logged-in trader.
// A send failure to one peer is logged by the caller and does not stop
// delivery to the rest.
func (r *Registry) Broadcast(hdr protocol.Header, payload []byte, onErr func(*Trader, error)) {
	r.mu.RLock()
	live := make([]*Trader, 0, len(r.byConn))
	for _, t := range r.byConn {
		live = append(live, t)
	}
	r.mu.RUnlock()

	for _, t := range live {
		if err := t.send(hdr, payload); err != nil && onErr != nil {
			onErr(t, err)
		}
	}
}

// Len reports the number of currently logged-in traders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
