// Package protocol defines the adjacently-tagged wire schema shared between
// the engine, the HTTP gateway, the WebSocket fan-out layer, and the DB
// writer. Every type here is encode/decode-only: it carries no behavior
// beyond shaping JSON, and deliberately avoids any tagged-union codec
// library — none of the reference stacks in this family reach for one, and
// a manual type-switch over a `type` field is the idiom they all use for
// discriminated request/reply payloads.
package protocol

import (
	"encoding/json"
	"fmt"

	"exchange-engine/internal/models"
)

// Request kinds, as carried in a RequestEnvelope's message.type field.
const (
	KindCreateOrder    = "CREATE_ORDER"
	KindCancelOrder    = "CANCEL_ORDER"
	KindOnRamp         = "ON_RAMP"
	KindGetDepth       = "GET_DEPTH"
	KindGetOpenOrders  = "GET_OPEN_ORDERS"
)

// Reply kinds, as carried in a ReplyEnvelope's type field.
const (
	KindDepth           = "DEPTH"
	KindOrderPlaced     = "ORDER_PLACED"
	KindOrderCancelled  = "ORDER_CANCELLED"
	KindOpenOrders      = "OPEN_ORDERS"
	KindError           = "ERROR"
)

// RequestEnvelope is what the engine pops off the request queue. user_id
// lives on the envelope, never inside message.data: the source's
// alternate CreateOrder shape (user_id duplicated in the body) was
// rejected in favor of this single form.
type RequestEnvelope struct {
	ClientID string          `json:"client_id"`
	UserID   string          `json:"user_id"`
	Message  RequestMessage  `json:"message"`
}

// RequestMessage is the tagged body of a RequestEnvelope. Data is decoded
// into a concrete *Data struct by the engine once Type is known.
type RequestMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseRequestEnvelope decodes the outer envelope only; callers dispatch on
// Message.Type and decode Message.Data themselves (see the Decode* helpers
// below).
func ParseRequestEnvelope(raw []byte) (*RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse request envelope: %w", err)
	}
	return &env, nil
}

// CreateOrderData is message.data for KindCreateOrder.
type CreateOrderData struct {
	Market   string      `json:"market"`
	Price    string      `json:"price"`
	Quantity string      `json:"quantity"`
	Side     models.Side `json:"side"`
}

// CancelOrderData is message.data for KindCancelOrder.
type CancelOrderData struct {
	OrderID string `json:"order_id"`
	Market  string `json:"market"`
}

// OnRampData is message.data for KindOnRamp. UserID comes from the
// envelope; only the amount and the idempotence key live here.
type OnRampData struct {
	Amount string `json:"amount"`
	TxnID  string `json:"txn_id"`
}

// GetDepthData is message.data for KindGetDepth.
type GetDepthData struct {
	Market string `json:"market"`
}

// GetOpenOrdersData is message.data for KindGetOpenOrders.
type GetOpenOrdersData struct {
	Market string `json:"market"`
}

func decodeData(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func DecodeCreateOrder(raw json.RawMessage) (CreateOrderData, error) {
	var d CreateOrderData
	err := decodeData(raw, &d)
	return d, err
}

func DecodeCancelOrder(raw json.RawMessage) (CancelOrderData, error) {
	var d CancelOrderData
	err := decodeData(raw, &d)
	return d, err
}

func DecodeOnRamp(raw json.RawMessage) (OnRampData, error) {
	var d OnRampData
	err := decodeData(raw, &d)
	return d, err
}

func DecodeGetDepth(raw json.RawMessage) (GetDepthData, error) {
	var d GetDepthData
	err := decodeData(raw, &d)
	return d, err
}

func DecodeGetOpenOrders(raw json.RawMessage) (GetOpenOrdersData, error) {
	var d GetOpenOrdersData
	err := decodeData(raw, &d)
	return d, err
}

// ReplyEnvelope is published once per request on the caller's per-request
// reply channel (named by client_id).
type ReplyEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewReply builds a ReplyEnvelope for the given kind and payload. The
// payload is stored as-is (not pre-marshaled); json.Marshal on the
// returned envelope renders it inline under "payload".
func NewReply(kind string, payload any) *ReplyEnvelope {
	return &ReplyEnvelope{Type: kind, Payload: payload}
}

// PriceQty is one (price, aggregated quantity) entry of a depth snapshot,
// encoded on the wire as a ["price","qty"] pair rather than an object.
type PriceQty [2]string

// DepthPayload is ReplyEnvelope.Payload for KindDepth.
type DepthPayload struct {
	Market       string     `json:"market"`
	Bids         []PriceQty `json:"bids"`
	Asks         []PriceQty `json:"asks"`
	CurrentPrice string     `json:"current_price"`
}

// WireFill is one entry of OrderPlacedPayload.Fills. The field is spelled
// marker_order_id on the wire, not maker_order_id: a deliberate carry-over
// of the source schema's naming rather than a typo to fix.
type WireFill struct {
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	TradeID      int64  `json:"trade_id"`
	MarkerOrderID string `json:"marker_order_id"`
	OtherUserID  string `json:"other_user_id"`
}

// OrderPlacedPayload is ReplyEnvelope.Payload for KindOrderPlaced.
type OrderPlacedPayload struct {
	OrderID     string     `json:"order_id"`
	ExecutedQty string     `json:"executed_qty"`
	Fills       []WireFill `json:"fills"`
}

// OrderCancelledPayload is ReplyEnvelope.Payload for KindOrderCancelled.
type OrderCancelledPayload struct {
	OrderID      string `json:"order_id"`
	ExecutedQty  string `json:"executed_qty"`
	RemainingQty string `json:"remaining_qty"`
}

// WireOrder is one entry of OpenOrdersPayload.Orders.
type WireOrder struct {
	OrderID  string `json:"order_id"`
	Market   string `json:"market"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Filled   string `json:"filled"`
}

// OpenOrdersPayload is ReplyEnvelope.Payload for KindOpenOrders.
type OpenOrdersPayload struct {
	Orders []WireOrder `json:"orders"`
}

// ErrorPayload is ReplyEnvelope.Payload for KindError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Stream channel name prefixes; the full channel name appends "@<MARKET>".
const (
	StreamTrade = "trade"
	StreamDepth = "depth"
	// StreamTicker is defined for forward compatibility but never
	// published by the engine: nothing downstream computes a ticker
	// value from order-book state alone.
	StreamTicker = "ticker"
)

// StreamEnvelope wraps one broadcast publication on a trade@<market> or
// depth@<market> channel.
type StreamEnvelope struct {
	Stream string `json:"stream"`
	Data   any    `json:"data"`
}

// NewStreamEnvelope names the channel ("trade" or "depth") together with
// the market so callers get back both the envelope and the channel name to
// publish on.
func NewStreamEnvelope(kind, market string, data any) (channel string, env *StreamEnvelope) {
	channel = kind + "@" + market
	env = &StreamEnvelope{Stream: channel, Data: data}
	return channel, env
}

// TradeStreamData is the data payload of a trade@<market> event.
// Field names are kept compact to match the wire contract: e (event kind),
// t (trade id), m (market), p (price), q (qty), s (maker side).
type TradeStreamData struct {
	E string `json:"e"`
	T int64  `json:"t"`
	M string `json:"m"`
	P string `json:"p"`
	Q string `json:"q"`
	S string `json:"s"`
}

// DepthStreamData is the data payload of a depth@<market> event: e (event
// kind), a (asks), b (bids), p (last traded price on this book).
type DepthStreamData struct {
	E            string     `json:"e"`
	A            []PriceQty `json:"a"`
	B            []PriceQty `json:"b"`
	CurrentPrice string     `json:"p"`
}

// DB queue record kinds.
const (
	DBKindTradeAdded   = "TradeAdded"
	DBKindOrderUpdate  = "OrderUpdate"
)

// DBRecord is the tagged envelope pushed onto the DB writer's queue.
type DBRecord struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TradeAddedRecord is DBRecord.Data for DBKindTradeAdded.
type TradeAddedRecord struct {
	TradeID      int64  `json:"trade_id"`
	Market       string `json:"market"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	TakerOrderID string `json:"taker_order_id"`
	TakerUserID  string `json:"taker_user_id"`
	MakerOrderID string `json:"maker_order_id"`
	MakerUserID  string `json:"maker_user_id"`
}

// OrderUpdateRecord is DBRecord.Data for DBKindOrderUpdate. A maker-side
// update (a resting order touched by someone else's incoming order) omits
// every field but OrderID and ExecutedQty: the DB writer already has the
// order's static fields from when it first rested.
type OrderUpdateRecord struct {
	OrderID     string  `json:"order_id"`
	Market      *string `json:"market,omitempty"`
	Price       *string `json:"price,omitempty"`
	Quantity    *string `json:"quantity,omitempty"`
	Side        *string `json:"side,omitempty"`
	ExecutedQty string  `json:"executed_qty"`
}

// NewMakerOrderUpdate builds the reduced OrderUpdateRecord shape used when
// a resting maker order is touched by someone else's fill.
func NewMakerOrderUpdate(orderID, executedQty string) OrderUpdateRecord {
	return OrderUpdateRecord{OrderID: orderID, ExecutedQty: executedQty}
}

// NewOrderUpdate builds the full OrderUpdateRecord shape used when an
// order is first created.
func NewOrderUpdate(orderID, market, price, quantity, side, executedQty string) OrderUpdateRecord {
	return OrderUpdateRecord{
		OrderID:     orderID,
		Market:      &market,
		Price:       &price,
		Quantity:    &quantity,
		Side:        &side,
		ExecutedQty: executedQty,
	}
}
