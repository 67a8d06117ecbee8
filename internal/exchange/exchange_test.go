package exchange

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rishavpaul/bourse/internal/accounts"
	"github.com/rishavpaul/bourse/internal/protocol"
	"github.com/rishavpaul/bourse/internal/traders"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeConn is a no-op net.Conn sufficient to let traders send real wire
// frames during a test without a socket.
type fakeConn struct{ net.Conn }

func (c *fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (c *fakeConn) Close() error                 { return nil }

func newTestTrader(t *testing.T, reg *traders.Registry, name string, balance, inventory uint32) *traders.Trader {
	t.Helper()
	acct := &accounts.Account{Name: name}
	acct.IncreaseBalance(balance)
	acct.IncreaseInventory(inventory)
	tr, err := reg.Login(&fakeConn{}, name, acct)
	require.NoError(t, err)
	return tr
}

func newTestExchange() (*Exchange, *traders.Registry) {
	reg := traders.NewRegistry(16)
	x := New(reg, zerolog.Nop())
	return x, reg
}

// awaitMatch gives the asynchronous matchmaker goroutine a bounded amount
// of time to settle a pending cross before the assertion runs.
func awaitMatch(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestSimpleCross(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 1000, 0)
	bob := newTestTrader(t, reg, "bob", 0, 10)

	_, err := x.PostBuy(alice, 5, 20)
	require.NoError(t, err)
	_, err = x.PostSell(bob, 5, 15)
	require.NoError(t, err)

	ok := awaitMatch(func() bool {
		balance, _ := alice.Account.Snapshot()
		return balance == 925
	})
	require.True(t, ok, "alice's balance should settle to 925 after price-improvement refund")

	balance, inventory := alice.Account.Snapshot()
	require.Equal(t, uint32(925), balance)
	require.Equal(t, uint32(5), inventory)

	bobBalance, bobInventory := bob.Account.Snapshot()
	require.Equal(t, uint32(75), bobBalance)
	require.Equal(t, uint32(5), bobInventory)

	require.Equal(t, uint32(15), x.Snapshot().Last)
}

func TestPartialFill(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 1000, 0)
	bob := newTestTrader(t, reg, "bob", 0, 10)

	buyID, err := x.PostBuy(alice, 5, 20)
	require.NoError(t, err)
	_, err = x.PostSell(bob, 3, 15)
	require.NoError(t, err)

	ok := awaitMatch(func() bool {
		_, inventory := alice.Account.Snapshot()
		return inventory == 3
	})
	require.True(t, ok)

	x.mu.Lock()
	remaining := x.orders[buyID].Remaining
	x.mu.Unlock()
	require.Equal(t, uint32(2), remaining)
}

func TestCancelRefundsReservation(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 500, 0)

	orderID, err := x.PostBuy(alice, 4, 50)
	require.NoError(t, err)
	balance, _ := alice.Account.Snapshot()
	require.Equal(t, uint32(300), balance)

	quantity, err := x.Cancel(alice, orderID)
	require.NoError(t, err)
	require.Equal(t, uint32(4), quantity)

	balance, _ = alice.Account.Snapshot()
	require.Equal(t, uint32(500), balance)
	require.Zero(t, x.Snapshot().Bid)
}

func TestInsufficientFundsRejectsPost(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 10, 0)

	_, err := x.PostBuy(alice, 5, 3)
	require.Error(t, err)

	balance, _ := alice.Account.Snapshot()
	require.Equal(t, uint32(10), balance)
}

func TestSelfCrossDoesNotTrade(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 1000, 10)

	_, err := x.PostBuy(alice, 1, 100)
	require.NoError(t, err)
	_, err = x.PostSell(alice, 1, 90)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, len(x.orders))
	require.Zero(t, x.Snapshot().Last)
}

func TestHighestAskTracksMinimum(t *testing.T) {
	x, reg := newTestExchange()
	bob := newTestTrader(t, reg, "bob", 0, 100)

	_, err := x.PostSell(bob, 10, 50)
	require.NoError(t, err)
	require.Equal(t, uint32(50), x.Snapshot().Ask)

	_, err = x.PostSell(bob, 10, 30)
	require.NoError(t, err)
	require.Equal(t, uint32(30), x.Snapshot().Ask, "highest_ask must track the minimum offer, not the maximum")
}

// recordingNotifier forwards to a real registry and keeps a copy of every
// broadcast frame.
type recordingNotifier struct {
	*traders.Registry

	mu       sync.Mutex
	headers  []protocol.Header
	payloads [][]byte
}

func (n *recordingNotifier) Broadcast(hdr protocol.Header, payload []byte, onErr func(*traders.Trader, error)) {
	n.mu.Lock()
	n.headers = append(n.headers, hdr)
	n.payloads = append(n.payloads, payload)
	n.mu.Unlock()
	n.Registry.Broadcast(hdr, payload, onErr)
}

func TestCancelSellBroadcastsAskNotBid(t *testing.T) {
	reg := traders.NewRegistry(16)
	rec := &recordingNotifier{Registry: reg}
	x := New(rec, zerolog.Nop())
	bob := newTestTrader(t, reg, "bob", 0, 10)

	orderID, err := x.PostSell(bob, 10, 42)
	require.NoError(t, err)

	x.mu.Lock()
	order := x.orders[orderID]
	x.mu.Unlock()
	require.Zero(t, order.Bid)
	require.Equal(t, uint32(42), order.Ask)

	_, err = x.Cancel(bob, orderID)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var canceled []protocol.NotifyInfo
	for i, hdr := range rec.headers {
		if hdr.Type == protocol.TypeCanceled {
			n, err := protocol.DecodeNotifyInfo(rec.payloads[i])
			require.NoError(t, err)
			canceled = append(canceled, n)
		}
	}
	require.Len(t, canceled, 1)
	require.Equal(t, orderID, canceled[0].Seller)
	require.Equal(t, uint32(42), canceled[0].Price)
}

func TestFinalizeStopsMatchmaker(t *testing.T) {
	x, reg := newTestExchange()
	_ = reg
	x.Finalize()

	// A post after finalize still mutates the book but no longer wakes a
	// live matchmaker; this just confirms Finalize returns without
	// hanging.
}

func TestZeroQuantityPostRejected(t *testing.T) {
	x, reg := newTestExchange()
	alice := newTestTrader(t, reg, "alice", 1000, 0)

	_, err := x.PostBuy(alice, 0, 10)
	require.Error(t, err)
	_, err = x.PostBuy(alice, 10, 0)
	require.Error(t, err)
}
