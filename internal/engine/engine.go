// Package engine is the single-threaded core: it owns every order book and
// the balance ledger, and exposes the one public operation (Process) that
// dispatches a request envelope, mutates state, and publishes everything
// the rest of the system needs to see. The caller (the bus-draining loop
// in cmd/engine) is responsible for calling Process once per request, in
// the order the bus delivered them; Engine itself holds no goroutines and
// needs no locks because nothing else ever touches its state concurrently.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-engine/internal/bus"
	"exchange-engine/internal/idgen"
	"exchange-engine/internal/ledger"
	"exchange-engine/internal/matching"
	"exchange-engine/internal/metrics"
	"exchange-engine/internal/models"
	"exchange-engine/internal/protocol"
)

// onRampDedupSize bounds the idempotence cache: once a venue has processed
// this many distinct on-ramp transactions, the oldest txn_ids age out and a
// truly ancient replay would be re-applied. In practice the DB writer's
// persisted records are the long-term source of truth; this cache only
// needs to cover in-flight retries.
const onRampDedupSize = 100_000

// MarketConfig seeds one order book at engine start.
type MarketConfig struct {
	Symbol string // e.g. "SOL_USDC"
	Base   string
	Quote  string
}

// ParseMarketConfig splits a BASE_QUOTE symbol on its first underscore.
func ParseMarketConfig(symbol string) (MarketConfig, error) {
	parts := strings.SplitN(symbol, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return MarketConfig{}, fmt.Errorf("invalid market symbol %q: want BASE_QUOTE", symbol)
	}
	return MarketConfig{Symbol: symbol, Base: parts[0], Quote: parts[1]}, nil
}

// Engine owns every order book and the balance ledger.
type Engine struct {
	books        map[string]*matching.OrderBook
	ledger       *ledger.Ledger
	baseCurrency string
	metrics      *metrics.Metrics
	dedup        *lru.Cache[string, struct{}]
	log          zerolog.Logger
}

// New creates an Engine with one order book per market in markets.
func New(markets []MarketConfig, baseCurrency string, allowFaucet bool, m *metrics.Metrics, log zerolog.Logger) (*Engine, error) {
	dedup, err := lru.New[string, struct{}](onRampDedupSize)
	if err != nil {
		return nil, fmt.Errorf("create on-ramp dedup cache: %w", err)
	}
	books := make(map[string]*matching.OrderBook, len(markets))
	for _, mkt := range markets {
		books[mkt.Symbol] = matching.NewOrderBook(mkt.Symbol, mkt.Base, mkt.Quote)
	}
	return &Engine{
		books:        books,
		ledger:       ledger.New(allowFaucet),
		baseCurrency: baseCurrency,
		metrics:      m,
		dedup:        dedup,
		log:          log,
	}, nil
}

// Ledger exposes the underlying balance ledger for snapshot load/save and
// out-of-band faucet credits (e.g. test seeding).
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Book returns the order book for market, or nil if unconfigured.
func (e *Engine) Book(market string) *matching.OrderBook { return e.books[market] }

// Process dispatches one request envelope end-to-end: decode, mutate,
// publish reply/streams/DB records. Bus publish errors are logged and
// otherwise swallowed (per the propagation policy: a request that already
// matched must not be rolled back because of a downstream publish
// failure). The returned error is non-nil only for the narrow class of
// malformed-request failures the caller may want to count separately.
func (e *Engine) Process(ctx context.Context, b bus.Bus, clientID, userID string, msg protocol.RequestMessage) error {
	start := time.Now()
	e.metrics.IncOrdersReceived()
	defer func() {
		e.metrics.AddLatency(time.Since(start).Microseconds())
	}()

	switch msg.Type {
	case protocol.KindCreateOrder:
		return e.handleCreateOrder(ctx, b, clientID, userID, msg.Data)
	case protocol.KindCancelOrder:
		return e.handleCancelOrder(ctx, b, clientID, userID, msg.Data)
	case protocol.KindGetOpenOrders:
		return e.handleGetOpenOrders(ctx, b, clientID, userID, msg.Data)
	case protocol.KindGetDepth:
		return e.handleGetDepth(ctx, b, clientID, msg.Data)
	case protocol.KindOnRamp:
		return e.handleOnRamp(ctx, b, clientID, userID, msg.Data)
	default:
		e.metrics.IncErrorsReturned()
		e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindError, protocol.ErrorPayload{
			Message: fmt.Sprintf("unknown request type %q", msg.Type),
		}))
		return fmt.Errorf("unknown request type %q", msg.Type)
	}
}

func (e *Engine) replyError(ctx context.Context, b bus.Bus, clientID, message string) {
	e.metrics.IncErrorsReturned()
	e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindError, protocol.ErrorPayload{Message: message}))
}

func (e *Engine) publishReply(ctx context.Context, b bus.Bus, clientID string, env *protocol.ReplyEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		e.log.Error().Err(err).Str("client_id", clientID).Msg("marshal reply envelope")
		return
	}
	if err := b.PublishReply(ctx, clientID, payload); err != nil {
		e.log.Error().Err(err).Str("client_id", clientID).Msg("publish reply")
	}
}

func (e *Engine) publishStream(ctx context.Context, b bus.Bus, kind, market string, data any) {
	channel, env := protocol.NewStreamEnvelope(kind, market, data)
	payload, err := json.Marshal(env)
	if err != nil {
		e.log.Error().Err(err).Str("channel", channel).Msg("marshal stream envelope")
		return
	}
	if err := b.PublishStream(ctx, channel, payload); err != nil {
		e.log.Error().Err(err).Str("channel", channel).Msg("publish stream event")
	}
}

func (e *Engine) pushDBRecord(ctx context.Context, b bus.Bus, rec protocol.DBRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		e.log.Error().Err(err).Str("record_type", rec.Type).Msg("marshal db record")
		return
	}
	if err := b.PushDBRecord(ctx, payload); err != nil {
		e.log.Error().Err(err).Str("record_type", rec.Type).Msg("push db record")
	}
}

func (e *Engine) depthPayload(market string, ob *matching.OrderBook) protocol.DepthPayload {
	bids, asks := ob.Depth()
	return protocol.DepthPayload{
		Market:       market,
		Bids:         toPriceQty(bids),
		Asks:         toPriceQty(asks),
		CurrentPrice: ob.CurrentPrice().String(),
	}
}

// publishDepth emits one depth@<market> stream event reflecting ob's
// current state, including the book's last traded price.
func (e *Engine) publishDepth(ctx context.Context, b bus.Bus, market string, ob *matching.OrderBook) {
	bids, asks := ob.Depth()
	e.publishStream(ctx, b, protocol.StreamDepth, market, protocol.DepthStreamData{
		E:            protocol.StreamDepth,
		A:            toPriceQty(asks),
		B:            toPriceQty(bids),
		CurrentPrice: ob.CurrentPrice().String(),
	})
}

func toPriceQty(levels []matching.PriceLevelView) []protocol.PriceQty {
	out := make([]protocol.PriceQty, len(levels))
	for i, l := range levels {
		out[i] = protocol.PriceQty{l.Price.String(), l.Quantity.String()}
	}
	return out
}

func parsePositiveDecimal(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid number %q: must be positive", s)
	}
	return v, nil
}

// --- CREATE_ORDER ---

func (e *Engine) handleCreateOrder(ctx context.Context, b bus.Bus, clientID, userID string, raw json.RawMessage) error {
	data, err := protocol.DecodeCreateOrder(raw)
	if err != nil {
		e.replyError(ctx, b, clientID, "malformed CREATE_ORDER request")
		return err
	}

	ob := e.books[data.Market]
	if ob == nil {
		e.replyError(ctx, b, clientID, fmt.Sprintf("unknown market %q", data.Market))
		return nil
	}

	price, err := parsePositiveDecimal(data.Price)
	if err != nil {
		e.replyError(ctx, b, clientID, err.Error())
		return nil
	}
	quantity, err := parsePositiveDecimal(data.Quantity)
	if err != nil {
		e.replyError(ctx, b, clientID, err.Error())
		return nil
	}

	order := &models.Order{
		ID:       idgen.New(),
		UserID:   userID,
		Market:   data.Market,
		Side:     data.Side,
		Price:    price,
		Quantity: quantity,
	}
	if err := order.Validate(); err != nil {
		e.replyError(ctx, b, clientID, err.Error())
		return nil
	}

	lockAsset, lockAmount := requiredLock(data.Side, ob.Base, ob.Quote, price, quantity)
	if err := e.ledger.Lock(userID, lockAsset, lockAmount); err != nil {
		e.replyError(ctx, b, clientID, "Insufficient funds")
		return nil
	}

	fills := ob.AddOrder(order)

	for _, f := range fills {
		e.settleFill(order.Side, userID, f.MakerUserID, ob.Base, ob.Quote, f.Qty, f.Price)
		e.metrics.IncTradesExecuted(1)

		e.pushDBRecord(ctx, b, protocol.DBRecord{
			Type: protocol.DBKindTradeAdded,
			Data: protocol.TradeAddedRecord{
				TradeID:      f.TradeID,
				Market:       data.Market,
				Price:        f.Price.String(),
				Quantity:     f.Qty.String(),
				TakerOrderID: order.ID,
				TakerUserID:  userID,
				MakerOrderID: f.MakerOrderID,
				MakerUserID:  f.MakerUserID,
			},
		})
		e.pushDBRecord(ctx, b, protocol.DBRecord{
			Type: protocol.DBKindOrderUpdate,
			Data: protocol.NewMakerOrderUpdate(f.MakerOrderID, f.Qty.String()),
		})

		e.publishStream(ctx, b, protocol.StreamTrade, data.Market, protocol.TradeStreamData{
			E: protocol.StreamTrade,
			T: f.TradeID,
			M: data.Market,
			P: f.Price.String(),
			Q: f.Qty.String(),
			S: order.Side.Opposite().String(),
		})
	}

	// One depth event per CREATE_ORDER, published after matching settles:
	// covers the fills just applied AND any newly-rested remainder, so an
	// order that rests with no fills (or partially fills and rests) still
	// tells fan-out subscribers about the new resting liquidity.
	e.publishDepth(ctx, b, data.Market, ob)

	if len(fills) > 0 {
		e.metrics.IncOrdersMatched(int64(len(fills)))
	}
	if !order.IsFullyFilled() {
		e.metrics.IncOrdersInBook()
	}

	e.pushDBRecord(ctx, b, protocol.DBRecord{
		Type: protocol.DBKindOrderUpdate,
		Data: protocol.NewOrderUpdate(order.ID, data.Market, price.String(), quantity.String(), data.Side.String(), order.Filled.String()),
	})

	wireFills := make([]protocol.WireFill, len(fills))
	for i, f := range fills {
		wireFills[i] = protocol.WireFill{
			Price:         f.Price.String(),
			Qty:           f.Qty.String(),
			TradeID:       f.TradeID,
			MarkerOrderID: f.MakerOrderID,
			OtherUserID:   f.MakerUserID,
		}
	}
	e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindOrderPlaced, protocol.OrderPlacedPayload{
		OrderID:     order.ID,
		ExecutedQty: order.Filled.String(),
		Fills:       wireFills,
	}))
	return nil
}

// requiredLock returns the asset and amount a new order must lock before
// matching: quote notional for a Buy, base quantity for a Sell.
func requiredLock(side models.Side, base, quote string, price, quantity decimal.Decimal) (asset string, amount decimal.Decimal) {
	if side == models.Buy {
		return quote, price.Mul(quantity)
	}
	return base, quantity
}

// settleFill moves fill proceeds between taker and maker per §4.2's
// settle_buy_fill/settle_sell_fill formulas: the trade always prices at
// the maker's price, and the same ledger call shape serves both directions
// once payAsset/receiveAsset are chosen for each participant's role.
func (e *Engine) settleFill(takerSide models.Side, takerUser, makerUser, base, quote string, qty, price decimal.Decimal) {
	notional := qty.Mul(price)
	if takerSide == models.Buy {
		if err := e.ledger.SettleTaker(takerUser, quote, notional, base, qty); err != nil {
			e.log.Error().Err(err).Str("user", takerUser).Msg("settle taker buy leg")
		}
		if err := e.ledger.SettleMaker(makerUser, base, qty, quote, notional); err != nil {
			e.log.Error().Err(err).Str("user", makerUser).Msg("settle maker sell leg")
		}
		return
	}
	if err := e.ledger.SettleTaker(takerUser, base, qty, quote, notional); err != nil {
		e.log.Error().Err(err).Str("user", takerUser).Msg("settle taker sell leg")
	}
	if err := e.ledger.SettleMaker(makerUser, quote, notional, base, qty); err != nil {
		e.log.Error().Err(err).Str("user", makerUser).Msg("settle maker buy leg")
	}
}

// --- CANCEL_ORDER ---

func (e *Engine) handleCancelOrder(ctx context.Context, b bus.Bus, clientID, userID string, raw json.RawMessage) error {
	data, err := protocol.DecodeCancelOrder(raw)
	if err != nil {
		e.replyError(ctx, b, clientID, "malformed CANCEL_ORDER request")
		return err
	}

	ob := e.books[data.Market]
	if ob == nil {
		e.replyError(ctx, b, clientID, fmt.Sprintf("unknown market %q", data.Market))
		return nil
	}

	order, err := ob.Cancel(data.OrderID)
	if err != nil {
		e.replyError(ctx, b, clientID, "Order not found")
		return nil
	}

	remaining := order.Remaining()
	var asset string
	var amount decimal.Decimal
	if order.Side == models.Buy {
		asset, amount = ob.Quote, remaining.Mul(order.Price)
	} else {
		asset, amount = ob.Base, remaining
	}
	if err := e.ledger.Release(order.UserID, asset, amount); err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("release on cancel")
	}
	e.metrics.IncOrdersCancelled()
	e.metrics.DecOrdersInBook()

	e.publishDepth(ctx, b, data.Market, ob)

	e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindOrderCancelled, protocol.OrderCancelledPayload{
		OrderID:      order.ID,
		ExecutedQty:  order.Filled.String(),
		RemainingQty: remaining.String(),
	}))
	return nil
}

// --- GET_OPEN_ORDERS ---

func (e *Engine) handleGetOpenOrders(ctx context.Context, b bus.Bus, clientID, userID string, raw json.RawMessage) error {
	data, err := protocol.DecodeGetOpenOrders(raw)
	if err != nil {
		e.replyError(ctx, b, clientID, "malformed GET_OPEN_ORDERS request")
		return err
	}

	ob := e.books[data.Market]
	if ob == nil {
		e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindOpenOrders, protocol.OpenOrdersPayload{Orders: []protocol.WireOrder{}}))
		return nil
	}

	orders := ob.OpenOrders(userID)
	wire := make([]protocol.WireOrder, len(orders))
	for i, o := range orders {
		wire[i] = protocol.WireOrder{
			OrderID:  o.ID,
			Market:   o.Market,
			Side:     o.Side.String(),
			Price:    o.Price.String(),
			Quantity: o.Quantity.String(),
			Filled:   o.Filled.String(),
		}
	}
	e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindOpenOrders, protocol.OpenOrdersPayload{Orders: wire}))
	return nil
}

// --- GET_DEPTH ---

func (e *Engine) handleGetDepth(ctx context.Context, b bus.Bus, clientID string, raw json.RawMessage) error {
	data, err := protocol.DecodeGetDepth(raw)
	if err != nil {
		e.replyError(ctx, b, clientID, "malformed GET_DEPTH request")
		return err
	}

	ob := e.books[data.Market]
	if ob == nil {
		e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindDepth, protocol.DepthPayload{
			Market: data.Market, Bids: []protocol.PriceQty{}, Asks: []protocol.PriceQty{},
		}))
		return nil
	}

	e.publishReply(ctx, b, clientID, protocol.NewReply(protocol.KindDepth, e.depthPayload(data.Market, ob)))
	return nil
}

// --- ON_RAMP ---

func (e *Engine) handleOnRamp(ctx context.Context, b bus.Bus, clientID, userID string, raw json.RawMessage) error {
	data, err := protocol.DecodeOnRamp(raw)
	if err != nil {
		e.replyError(ctx, b, clientID, "malformed ON_RAMP request")
		return err
	}

	if _, dup := e.dedup.Get(data.TxnID); dup {
		e.metrics.IncOnRampsDeduped()
		e.replyError(ctx, b, clientID, fmt.Sprintf("duplicate txn_id %q", data.TxnID))
		return nil
	}

	amount, err := parsePositiveDecimal(data.Amount)
	if err != nil {
		e.replyError(ctx, b, clientID, err.Error())
		return nil
	}

	if err := e.ledger.OnRamp(userID, e.baseCurrency, amount); err != nil {
		e.replyError(ctx, b, clientID, err.Error())
		return nil
	}
	e.dedup.Add(data.TxnID, struct{}{})
	e.metrics.IncOnRampsApplied()

	// No reply is published on success: the protocol defines no
	// ON_RAMP-success reply variant, and no request kind reports a
	// balance back to the caller.
	return nil
}
