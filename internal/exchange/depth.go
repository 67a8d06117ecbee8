package exchange

import (
	"github.com/emirpasic/gods/v2/trees/redblacktree"
)

// DepthLevel is one aggregated price level in a depth snapshot.
type DepthLevel struct {
	Price    uint32
	Quantity uint32
	Orders   int
}

// Depth is a non-authoritative, point-in-time view of book depth. It is
// rebuilt from the live order set on demand (the matchmaker builds one for
// its log after each pass that settles a trade) and never consulted when
// matching — the map in Exchange remains the sole source of truth for
// matching.
type Depth struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// DepthSnapshot aggregates the current live book into at most levels
// price levels per side, ordered best-price-first. It is purely an
// operational/reporting aid: unlike the teacher's order book, this
// implementation does not use a price-ordered tree as its matching
// structure (see the design notes on why price-time priority is not
// required here), but a red-black tree is still the natural shape for
// turning an unordered order set into a leveled depth view on demand.
func (x *Exchange) DepthSnapshot(levels int) Depth {
	ascending := func(a, b uint32) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	x.mu.Lock()
	bidTree := redblacktree.NewWith[uint32, *DepthLevel](ascending)
	askTree := redblacktree.NewWith[uint32, *DepthLevel](ascending)
	for _, o := range x.orders {
		if o.IsBuy() {
			accumulate(bidTree, o.Bid, o.Remaining)
		} else {
			accumulate(askTree, o.Ask, o.Remaining)
		}
	}
	x.mu.Unlock()

	return Depth{
		Bids: topLevels(bidTree, levels, true),
		Asks: topLevels(askTree, levels, false),
	}
}

func accumulate(t *redblacktree.Tree[uint32, *DepthLevel], price, quantity uint32) {
	if lvl, found := t.Get(price); found {
		lvl.Quantity += quantity
		lvl.Orders++
		return
	}
	t.Put(price, &DepthLevel{Price: price, Quantity: quantity, Orders: 1})
}

// topLevels walks the tree in the requested price order (descending for
// bids, ascending for asks) and returns at most `levels` entries.
func topLevels(t *redblacktree.Tree[uint32, *DepthLevel], levels int, descending bool) []DepthLevel {
	keys := t.Keys()
	if descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	out := make([]DepthLevel, 0, levels)
	for _, k := range keys {
		if len(out) >= levels {
			break
		}
		lvl, _ := t.Get(k)
		out = append(out, *lvl)
	}
	return out
}
