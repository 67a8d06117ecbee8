// Package exchange implements the continuous double-auction order book:
// order posting, cancellation, and a dedicated matchmaker goroutine that
// crosses buy and sell orders against each other.
package exchange

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rishavpaul/bourse/internal/protocol"
	"github.com/rishavpaul/bourse/internal/traders"
	"github.com/rs/zerolog"
)

// ErrNoSuchOrder is returned by Cancel when the order id is not live.
var ErrNoSuchOrder = errors.New("exchange: no such order")

// Order is one live resting order in the book.
type Order struct {
	ID        uint32
	Bid       uint32 // nonzero for a buy order
	Ask       uint32 // nonzero for a sell order
	Remaining uint32
	Trader    *traders.Trader
}

// IsBuy reports whether o is a buy order.
func (o *Order) IsBuy() bool { return o.Bid > 0 }

// Notifier is implemented by the trader registry; kept as an interface so
// the matching core can be tested without wiring a real registry.
type Notifier interface {
	Broadcast(hdr protocol.Header, payload []byte, onErr func(*traders.Trader, error))
	Ref(t *traders.Trader, why string)
	Unref(t *traders.Trader, why string)
}

// Exchange is the single-symbol order book plus its matchmaker.
type Exchange struct {
	log zerolog.Logger

	mu          sync.Mutex
	orders      map[uint32]*Order
	highestBid  uint32
	highestAsk  uint32
	last        uint32
	nextOrderID uint32

	registry Notifier

	depthLevels int

	wake         chan struct{}
	shutdown     chan struct{}
	shutdownDone chan struct{}
}

// defaultDepthLevels bounds the operational depth snapshot logged after
// each matched batch when the caller hasn't overridden it.
const defaultDepthLevels = 5

// New constructs an Exchange wired to registry for notifications, and
// starts its matchmaker goroutine.
func New(registry Notifier, log zerolog.Logger) *Exchange {
	x := &Exchange{
		log:          log.With().Str("component", "exchange").Logger(),
		orders:       make(map[uint32]*Order),
		registry:     registry,
		depthLevels:  defaultDepthLevels,
		wake:         make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	go x.matchmaker()
	return x
}

// SetDepthLevels overrides how many price levels per side the matchmaker
// logs in its post-match depth snapshot. Values <= 0 are ignored.
func (x *Exchange) SetDepthLevels(levels int) {
	if levels > 0 {
		x.depthLevels = levels
	}
}

func (x *Exchange) nextID() uint32 {
	return atomic.AddUint32(&x.nextOrderID, 1)
}

func notifyHeader(t uint8, size int) protocol.Header {
	return protocol.Header{Type: t, Size: uint16(size)}
}

func (x *Exchange) broadcastPosted(o *Order) {
	n := protocol.NotifyInfo{Quantity: o.Remaining}
	if o.IsBuy() {
		n.Buyer = o.ID
		n.Price = o.Bid
	} else {
		n.Seller = o.ID
		n.Price = o.Ask
	}
	payload := protocol.EncodeNotifyInfo(n)
	x.registry.Broadcast(notifyHeader(protocol.TypePosted, len(payload)), payload, x.logBroadcastErr)
}

func (x *Exchange) broadcastCanceled(o *Order, quantity uint32) {
	n := protocol.NotifyInfo{Quantity: quantity}
	if o.IsBuy() {
		n.Buyer = o.ID
		n.Price = o.Bid
	} else {
		n.Seller = o.ID
		n.Price = o.Ask // corrected: a sell cancel reports its ask, not its (zero) bid
	}
	payload := protocol.EncodeNotifyInfo(n)
	x.registry.Broadcast(notifyHeader(protocol.TypeCanceled, len(payload)), payload, x.logBroadcastErr)
}

func (x *Exchange) logBroadcastErr(t *traders.Trader, err error) {
	x.log.Debug().Err(err).Str("trader", t.Name).Msg("broadcast send failed")
}

// PostBuy reserves quantity*price from trader's account and, on success,
// adds a resting buy order to the book and wakes the matchmaker.
func (x *Exchange) PostBuy(t *traders.Trader, quantity, price uint32) (orderID uint32, err error) {
	if quantity == 0 || price == 0 {
		return 0, errors.New("exchange: quantity and price must be positive")
	}
	if err := t.Account.DecreaseBalance(quantity * price); err != nil {
		return 0, err
	}

	x.mu.Lock()
	id := x.nextID()
	o := &Order{ID: id, Bid: price, Remaining: quantity, Trader: t}
	x.orders[id] = o
	if price > x.highestBid {
		x.highestBid = price
	}
	x.registry.Ref(t, "placing order")
	x.mu.Unlock()

	x.broadcastPosted(o)
	x.signalWake()
	return id, nil
}

// PostSell reserves quantity units of inventory from trader's account
// and, on success, adds a resting sell order to the book and wakes the
// matchmaker.
func (x *Exchange) PostSell(t *traders.Trader, quantity, price uint32) (orderID uint32, err error) {
	if quantity == 0 || price == 0 {
		return 0, errors.New("exchange: quantity and price must be positive")
	}
	if err := t.Account.DecreaseInventory(quantity); err != nil {
		return 0, err
	}

	x.mu.Lock()
	id := x.nextID()
	o := &Order{ID: id, Ask: price, Remaining: quantity, Trader: t}
	x.orders[id] = o
	if x.highestAsk == 0 || price < x.highestAsk {
		x.highestAsk = price // corrected: ask tracks the minimum offer, not the maximum
	}
	x.registry.Ref(t, "making sale")
	x.mu.Unlock()

	x.broadcastPosted(o)
	x.signalWake()
	return id, nil
}

// Cancel removes a live order, refunds its unmatched reservation, and
// recomputes the affected side's best price. Returns the quantity that
// was cancelled.
func (x *Exchange) Cancel(t *traders.Trader, orderID uint32) (quantity uint32, err error) {
	x.mu.Lock()
	o, ok := x.orders[orderID]
	if !ok || o.Trader != t {
		x.mu.Unlock()
		return 0, ErrNoSuchOrder
	}
	delete(x.orders, orderID)
	quantity = o.Remaining

	if o.IsBuy() {
		t.Account.IncreaseBalance(o.Bid * o.Remaining)
		x.recomputeHighestBid()
	} else {
		t.Account.IncreaseInventory(o.Remaining)
		x.recomputeHighestAsk()
	}
	x.registry.Unref(t, "cancelled order")
	x.mu.Unlock()

	x.broadcastCanceled(o, quantity)
	return quantity, nil
}

// recomputeHighestBid rescans the live book; caller must hold x.mu.
func (x *Exchange) recomputeHighestBid() {
	var best uint32
	for _, o := range x.orders {
		if o.IsBuy() && o.Bid > best {
			best = o.Bid
		}
	}
	x.highestBid = best
}

// recomputeHighestAsk rescans the live book; caller must hold x.mu.
func (x *Exchange) recomputeHighestAsk() {
	var best uint32
	for _, o := range x.orders {
		if !o.IsBuy() && (best == 0 || o.Ask < best) {
			best = o.Ask
		}
	}
	x.highestAsk = best
}

// Status is a point-in-time snapshot of market-level state.
type Status struct {
	Bid  uint32
	Ask  uint32
	Last uint32
}

// Snapshot returns the current market status.
func (x *Exchange) Snapshot() Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Status{Bid: x.highestBid, Ask: x.highestAsk, Last: x.last}
}

// signalWake schedules a matchmaker pass without blocking if one is
// already pending.
func (x *Exchange) signalWake() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// Finalize signals the matchmaker to stop, waits for its acknowledgement,
// and returns once it has exited. All remaining live orders are dropped
// without refund: the server is shutting down.
func (x *Exchange) Finalize() {
	close(x.shutdown)
	x.signalWake()
	<-x.shutdownDone
}

func (x *Exchange) matchmaker() {
	for {
		select {
		case <-x.wake:
		case <-x.shutdown:
			close(x.shutdownDone)
			return
		}

		select {
		case <-x.shutdown:
			close(x.shutdownDone)
			return
		default:
		}

		x.mu.Lock()
		traded := x.matchOnce()
		x.mu.Unlock()
		if traded {
			x.logDepth()
		}
	}
}

// logDepth snapshots the current book depth and emits it as a single
// structured-log line. Purely operational: it never feeds back into
// matching. Must be called without x.mu held.
func (x *Exchange) logDepth() {
	depth := x.DepthSnapshot(x.depthLevels)
	x.log.Debug().
		Interface("bids", depth.Bids).
		Interface("asks", depth.Asks).
		Uint32("last", x.Snapshot().Last).
		Msg("book depth")
}

// matchOnce scans the book for crossable pairs and settles every trade it
// finds. Caller must hold x.mu. Returns whether at least one trade settled.
func (x *Exchange) matchOnce() bool {
	if x.highestBid == 0 || x.highestAsk == 0 {
		return false
	}

	traded := false
	for {
		buy, sell := x.bestCrossablePair()
		if buy == nil || sell == nil {
			return traded
		}
		traded = true

		price := sell.Ask
		if x.last > price {
			price = x.last
		}
		if buy.Bid < price {
			price = buy.Bid
		}

		quantity := buy.Remaining
		if sell.Remaining < quantity {
			quantity = sell.Remaining
		}

		sell.Trader.Account.IncreaseBalance(price * quantity)
		buy.Trader.Account.IncreaseInventory(quantity)
		if price < buy.Bid {
			buy.Trader.Account.IncreaseBalance((buy.Bid - price) * quantity)
		}
		x.last = price

		buy.Remaining -= quantity
		sell.Remaining -= quantity

		notify := protocol.NotifyInfo{Buyer: buy.ID, Seller: sell.ID, Quantity: quantity, Price: price}
		x.broadcastTrade(notify, buy.Trader, sell.Trader)

		if buy.Remaining == 0 {
			delete(x.orders, buy.ID)
			x.registry.Unref(buy.Trader, "order filled")
		}
		if sell.Remaining == 0 {
			delete(x.orders, sell.ID)
			x.registry.Unref(sell.Trader, "order filled")
		}
		x.recomputeHighestBid()
		x.recomputeHighestAsk()
	}
}

// bestCrossablePair finds a crossable (buy, sell) pair, visiting live
// orders in ascending order-id order on both sides so that, among
// otherwise-equal candidates, the oldest order is considered first. This
// iteration order is a documented implementation choice, not a wire
// guarantee (see the market design notes).
func (x *Exchange) bestCrossablePair() (*Order, *Order) {
	ids := make([]uint32, 0, len(x.orders))
	for id := range x.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, sid := range ids {
		sell := x.orders[sid]
		if sell.IsBuy() || sell.Ask == 0 {
			continue
		}
		for _, bid := range ids {
			buy := x.orders[bid]
			if !buy.IsBuy() || buy.Bid == 0 || buy.Trader == sell.Trader {
				continue
			}
			if buy.Bid >= sell.Ask {
				return buy, sell
			}
		}
	}
	return nil, nil
}

func (x *Exchange) broadcastTrade(n protocol.NotifyInfo, buyer, seller *traders.Trader) {
	payload := protocol.EncodeNotifyInfo(n)
	if err := buyer.SendNotify(protocol.TypeBought, n); err != nil {
		x.log.Debug().Err(err).Str("trader", buyer.Name).Msg("bought notify failed")
	}
	if err := seller.SendNotify(protocol.TypeSold, n); err != nil {
		x.log.Debug().Err(err).Str("trader", seller.Name).Msg("sold notify failed")
	}
	x.registry.Broadcast(notifyHeader(protocol.TypeTraded, len(payload)), payload, x.logBroadcastErr)
}

