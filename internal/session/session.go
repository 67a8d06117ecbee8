// Package session implements the per-connection client state machine:
// an UNAUTH state that accepts only LOGIN, and an AUTH state that
// dispatches the remaining request types.
package session

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rishavpaul/bourse/internal/accounts"
	"github.com/rishavpaul/bourse/internal/connreg"
	"github.com/rishavpaul/bourse/internal/exchange"
	"github.com/rishavpaul/bourse/internal/protocol"
	"github.com/rishavpaul/bourse/internal/traders"
	"github.com/rs/zerolog"
)

// state is this session's position in the UNAUTH -> AUTH state machine.
type state int

const (
	stateUnauth state = iota
	stateAuth
)

// Deps bundles the shared components a session needs to serve requests.
type Deps struct {
	Accounts  *accounts.Store
	Traders   *traders.Registry
	Exchange  *exchange.Exchange
	ConnReg   *connreg.Registry
	Log       zerolog.Logger
}

// Session drives one accepted connection through the protocol state
// machine until the peer disconnects or a fatal I/O error occurs.
type Session struct {
	deps  Deps
	conn  net.Conn
	log   zerolog.Logger
	state state
	tr    *traders.Trader
}

// New wraps conn in a session ready to be Run.
func New(conn net.Conn, deps Deps) *Session {
	id := uuid.New()
	return &Session{
		deps:  deps,
		conn:  conn,
		log:   deps.Log.With().Str("component", "session").Str("conn_id", id.String()).Logger(),
		state: stateUnauth,
	}
}

// Run registers the session's connection and services requests until the
// connection closes, then tears down cleanly: logging out any trader,
// unregistering the connection, and closing the socket.
func (s *Session) Run() {
	if err := s.deps.ConnReg.Register(s.conn); err != nil {
		s.log.Error().Err(err).Msg("failed to register connection")
		s.conn.Close()
		return
	}

	defer func() {
		if s.tr != nil {
			s.deps.Traders.Logout(s.tr)
		}
		_ = s.deps.ConnReg.Unregister(s.conn)
		s.conn.Close()
	}()

	for {
		hdr, payload, err := protocol.Recv(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("session receive failed, closing")
			}
			return
		}
		s.dispatch(hdr, payload)
	}
}

func (s *Session) dispatch(hdr protocol.Header, payload []byte) {
	if hdr.Type == protocol.TypeLogin {
		s.handleLogin(payload)
		return
	}
	if s.state != stateAuth {
		s.nack()
		return
	}

	switch hdr.Type {
	case protocol.TypeStatus:
		s.ackStatus(0, 0)
	case protocol.TypeDeposit:
		s.handleDeposit(payload)
	case protocol.TypeWithdraw:
		s.handleWithdraw(payload)
	case protocol.TypeEscrow:
		s.handleEscrow(payload)
	case protocol.TypeRelease:
		s.handleRelease(payload)
	case protocol.TypeBuy:
		s.handleBuy(payload)
	case protocol.TypeSell:
		s.handleSell(payload)
	case protocol.TypeCancel:
		s.handleCancel(payload)
	default:
		s.nack()
	}
}

func (s *Session) nack() {
	if s.tr == nil {
		s.cliNack()
		return
	}
	if err := s.tr.SendNack(); err != nil {
		s.log.Debug().Err(err).Msg("nack send failed")
	}
}

func (s *Session) cliNack() {
	_ = protocol.Send(s.conn, protocol.Header{Type: protocol.TypeNack}, nil)
}

func (s *Session) handleLogin(payload []byte) {
	if s.state == stateAuth {
		s.nack()
		return
	}
	name := string(payload)
	if name == "" {
		s.cliNack()
		return
	}

	acct, err := s.deps.Accounts.Lookup(name)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("login rejected")
		s.cliNack()
		return
	}
	tr, err := s.deps.Traders.Login(s.conn, name, acct)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("login rejected")
		s.cliNack()
		return
	}
	s.tr = tr
	s.state = stateAuth
	s.ackStatus(0, 0)
}

// ackStatus replies with the current account/market snapshot, with
// orderID and quantity filled in for responses to order-level requests.
func (s *Session) ackStatus(orderID, quantity uint32) {
	balance, inventory := s.tr.Account.Snapshot()
	market := s.deps.Exchange.Snapshot()
	status := protocol.StatusInfo{
		OrderID:   orderID,
		Quantity:  quantity,
		Inventory: inventory,
		Balance:   balance,
		Bid:       market.Bid,
		Ask:       market.Ask,
		Last:      market.Last,
	}
	if err := s.tr.SendAck(status); err != nil {
		s.log.Debug().Err(err).Msg("ack send failed")
	}
}

func (s *Session) handleDeposit(payload []byte) {
	amount, err := protocol.DecodeUint32(payload)
	if err != nil {
		s.nack()
		return
	}
	s.tr.Account.IncreaseBalance(amount)
	s.ackStatus(0, 0)
}

func (s *Session) handleWithdraw(payload []byte) {
	amount, err := protocol.DecodeUint32(payload)
	if err != nil {
		s.nack()
		return
	}
	if err := s.tr.Account.DecreaseBalance(amount); err != nil {
		s.nack()
		return
	}
	s.ackStatus(0, 0)
}

func (s *Session) handleEscrow(payload []byte) {
	quantity, err := protocol.DecodeUint32(payload)
	if err != nil {
		s.nack()
		return
	}
	s.tr.Account.IncreaseInventory(quantity)
	s.ackStatus(0, 0)
}

func (s *Session) handleRelease(payload []byte) {
	quantity, err := protocol.DecodeUint32(payload)
	if err != nil {
		s.nack()
		return
	}
	if err := s.tr.Account.DecreaseInventory(quantity); err != nil {
		s.nack()
		return
	}
	s.ackStatus(0, 0)
}

func (s *Session) handleBuy(payload []byte) {
	quantity, price, err := protocol.DecodeOrderRequest(payload)
	if err != nil {
		s.nack()
		return
	}
	orderID, err := s.deps.Exchange.PostBuy(s.tr, quantity, price)
	if err != nil {
		s.log.Debug().Err(err).Msg("post buy rejected")
		s.nack()
		return
	}
	s.ackStatus(orderID, 0)
}

func (s *Session) handleSell(payload []byte) {
	quantity, price, err := protocol.DecodeOrderRequest(payload)
	if err != nil {
		s.nack()
		return
	}
	orderID, err := s.deps.Exchange.PostSell(s.tr, quantity, price)
	if err != nil {
		s.log.Debug().Err(err).Msg("post sell rejected")
		s.nack()
		return
	}
	s.ackStatus(orderID, 0)
}

func (s *Session) handleCancel(payload []byte) {
	orderID, err := protocol.DecodeUint32(payload)
	if err != nil {
		s.nack()
		return
	}
	quantity, err := s.deps.Exchange.Cancel(s.tr, orderID)
	if err != nil {
		s.log.Debug().Err(err).Msg("cancel rejected")
		s.nack()
		return
	}
	s.ackStatus(orderID, quantity)
}
