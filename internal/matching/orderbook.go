package matching

import (
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"exchange-engine/internal/models"
)

// priceLevel is a FIFO queue of resting orders at one exact price. Insertion
// order is preserved (append-only growth; removing a filled or cancelled
// order keeps the others in their original order), which is the
// time-priority key within the level.
type priceLevel struct {
	price  decimal.Decimal
	orders []*models.Order
}

// locatedOrder lets Cancel find a resting order in O(log n) instead of
// scanning both ladders.
type locatedOrder struct {
	side  models.Side
	price decimal.Decimal
}

// OrderBook is the price-time priority book for a single market symbol.
// It is not safe for concurrent use: the owning Engine serializes all
// mutation through its single execution context (see internal/engine).
type OrderBook struct {
	Market string
	Base   string
	Quote  string

	bids *redblacktree.Tree // price -> *priceLevel, highest first
	asks *redblacktree.Tree // price -> *priceLevel, lowest first

	index map[string]locatedOrder

	lastTradeID  int64
	currentPrice decimal.Decimal
}

func bidComparator(a, b interface{}) int {
	// Reversed so the tree's natural (ascending) traversal yields bids
	// highest-first, matching the ascending asks tree's best-first shape.
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

func askComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// NewOrderBook creates an empty book for a market of the form BASE_QUOTE.
func NewOrderBook(market, base, quote string) *OrderBook {
	return &OrderBook{
		Market:       market,
		Base:         base,
		Quote:        quote,
		bids:         redblacktree.NewWith(bidComparator),
		asks:         redblacktree.NewWith(askComparator),
		index:        make(map[string]locatedOrder),
		currentPrice: decimal.Zero,
	}
}

func (ob *OrderBook) ladder(side models.Side) *redblacktree.Tree {
	if side == models.Buy {
		return ob.bids
	}
	return ob.asks
}

// AddOrder matches the incoming order against the opposing ladder and, if
// quantity remains, rests it on the order's own side. order.Filled is
// updated in place. The caller is responsible for generating order.ID and
// for all balance-ledger bookkeeping; AddOrder only ever mutates book state.
func (ob *OrderBook) AddOrder(order *models.Order) []models.Fill {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	var fills []models.Fill
	if order.Side == models.Buy {
		fills = ob.match(order, ob.asks, func(levelPrice decimal.Decimal) bool {
			return levelPrice.GreaterThan(order.Price) // ask crossed out
		})
	} else {
		fills = ob.match(order, ob.bids, func(levelPrice decimal.Decimal) bool {
			return levelPrice.LessThan(order.Price) // bid crossed out
		})
	}

	if !order.IsFullyFilled() {
		ob.rest(order)
	}
	return fills
}

// match sweeps the opposing tree strictly best-to-worst, one price level at
// a time, while the incoming order still has quantity remaining and the
// level has not crossed out (crossedOut reports, given a level's price,
// whether traversal should stop). Each level is visited exactly once: a
// level left non-empty by matchLevel holds only self-trade-blocked orders
// and can never yield a further fill for this incoming order, so the sweep
// always advances rather than re-reading the same level (which would spin
// forever on a self-trade-only book side).
func (ob *OrderBook) match(order *models.Order, opposing *redblacktree.Tree, crossedOut func(decimal.Decimal) bool) []models.Fill {
	var fills []models.Fill
	var drained []decimal.Decimal

	it := opposing.Iterator()
	it.Begin()
	for it.Next() {
		if order.IsFullyFilled() {
			break
		}
		level := it.Value().(*priceLevel)
		if crossedOut(level.price) {
			break
		}

		levelFills, remaining := ob.matchLevel(order, level)
		fills = append(fills, levelFills...)

		if len(remaining) == 0 {
			drained = append(drained, level.price)
		} else if len(remaining) != len(level.orders) {
			level.orders = remaining
		}
	}

	for _, price := range drained {
		opposing.Remove(price)
	}

	ob.currentPrice = currentPriceFromFills(ob.currentPrice, fills)
	return fills
}

func currentPriceFromFills(prev decimal.Decimal, fills []models.Fill) decimal.Decimal {
	if len(fills) == 0 {
		return prev
	}
	return fills[len(fills)-1].Price
}

// matchLevel fills the incoming order against one price level's FIFO,
// skipping (never consuming) any resting order owned by the same user.
// Returns the fills produced and the level's remaining order slice.
func (ob *OrderBook) matchLevel(order *models.Order, level *priceLevel) ([]models.Fill, []*models.Order) {
	var fills []models.Fill
	remaining := make([]*models.Order, 0, len(level.orders))

	for i, maker := range level.orders {
		if order.IsFullyFilled() {
			remaining = append(remaining, level.orders[i:]...)
			break
		}

		if maker.UserID == order.UserID {
			remaining = append(remaining, maker)
			continue
		}

		qty := decimal.Min(order.Remaining(), maker.Remaining())
		if qty.IsZero() {
			remaining = append(remaining, maker)
			continue
		}

		order.Filled = order.Filled.Add(qty)
		maker.Filled = maker.Filled.Add(qty)

		ob.lastTradeID++
		fills = append(fills, models.Fill{
			Qty:          qty,
			Price:        level.price,
			TradeID:      ob.lastTradeID,
			MakerOrderID: maker.ID,
			MakerUserID:  maker.UserID,
		})

		if maker.IsFullyFilled() {
			delete(ob.index, maker.ID)
		} else {
			remaining = append(remaining, maker)
		}
	}

	return fills, remaining
}

// rest appends a residual order to its own side's ladder.
func (ob *OrderBook) rest(order *models.Order) {
	tree := ob.ladder(order.Side)
	if v, ok := tree.Get(order.Price); ok {
		level := v.(*priceLevel)
		level.orders = append(level.orders, order)
	} else {
		tree.Put(order.Price, &priceLevel{price: order.Price, orders: []*models.Order{order}})
	}
	ob.index[order.ID] = locatedOrder{side: order.Side, price: order.Price}
}

// Cancel removes a resting order and returns it (so the caller can compute
// the notional to release from the ledger).
func (ob *OrderBook) Cancel(orderID string) (*models.Order, error) {
	loc, ok := ob.index[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	tree := ob.ladder(loc.side)
	v, ok := tree.Get(loc.price)
	if !ok {
		delete(ob.index, orderID)
		return nil, ErrOrderNotFound
	}
	level := v.(*priceLevel)

	var removed *models.Order
	remaining := level.orders[:0:0]
	for _, o := range level.orders {
		if o.ID == orderID {
			removed = o
			continue
		}
		remaining = append(remaining, o)
	}
	if removed == nil {
		delete(ob.index, orderID)
		return nil, ErrOrderNotFound
	}

	delete(ob.index, orderID)
	if len(remaining) == 0 {
		tree.Remove(loc.price)
	} else {
		level.orders = remaining
	}
	return removed, nil
}

// PriceLevelView is one aggregated (price, remaining quantity) entry of a
// depth snapshot.
type PriceLevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth returns an aggregated snapshot: bids highest-first, asks
// lowest-first, skipping any level whose aggregated remaining is zero.
func (ob *OrderBook) Depth() (bids, asks []PriceLevelView) {
	bids = collectDepth(ob.bids)
	asks = collectDepth(ob.asks)
	return bids, asks
}

func collectDepth(tree *redblacktree.Tree) []PriceLevelView {
	views := make([]PriceLevelView, 0, tree.Size())
	it := tree.Iterator()
	it.Begin()
	for it.Next() {
		level := it.Value().(*priceLevel)
		total := decimal.Zero
		for _, o := range level.orders {
			total = total.Add(o.Remaining())
		}
		if total.IsZero() {
			continue
		}
		views = append(views, PriceLevelView{Price: level.price, Quantity: total})
	}
	return views
}

// OpenOrders returns every resting order belonging to userID across both
// ladders. Order of results is unspecified.
func (ob *OrderBook) OpenOrders(userID string) []*models.Order {
	var open []*models.Order
	for _, tree := range []*redblacktree.Tree{ob.bids, ob.asks} {
		it := tree.Iterator()
		it.Begin()
		for it.Next() {
			level := it.Value().(*priceLevel)
			for _, o := range level.orders {
				if o.UserID == userID && o.Filled.LessThan(o.Quantity) {
					open = append(open, o)
				}
			}
		}
	}
	return open
}

// OpenOrdersBySide returns every resting order on one side, in ladder
// traversal order. Used by snapshotting, which persists per-side rather
// than per-user.
func (ob *OrderBook) OpenOrdersBySide(side models.Side) []*models.Order {
	var open []*models.Order
	tree := ob.ladder(side)
	it := tree.Iterator()
	it.Begin()
	for it.Next() {
		level := it.Value().(*priceLevel)
		open = append(open, level.orders...)
	}
	return open
}

// Restore re-inserts an order recovered from a snapshot directly onto its
// ladder, bypassing matching: a snapshot is taken only when every resting
// order is already known not to cross (the book was consistent when
// saved), so re-running the matching algorithm on load would be wasted
// work at best and would re-derive fills that were already settled at
// worst.
func (ob *OrderBook) Restore(order *models.Order) {
	ob.rest(order)
}

// LastTradeID returns the most recently assigned trade id for this book.
func (ob *OrderBook) LastTradeID() int64 {
	return ob.lastTradeID
}

// RestoreLastTradeID sets the trade-id counter from a loaded snapshot so
// newly assigned ids continue monotonically rather than restarting at zero.
func (ob *OrderBook) RestoreLastTradeID(id int64) {
	ob.lastTradeID = id
}

// CurrentPrice returns the price of the most recent fill on this book.
func (ob *OrderBook) CurrentPrice() decimal.Decimal {
	return ob.currentPrice
}
