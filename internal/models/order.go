package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the side of an order (Buy or Sell).
type Side int

const (
	Buy Side = iota
	Sell
)

// String returns the wire representation of a Side.
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON converts a Side to its string representation for JSON encoding.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON converts a string to a Side for JSON decoding. Both cases are
// accepted since some upstream producers send lowercase.
func (s *Side) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "BUY", "buy":
		*s = Buy
	case "SELL", "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side: %s", str)
	}
	return nil
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a resting or incoming limit order. Identity (ID, UserID, Side,
// Price, Quantity) is fixed at creation; only Filled mutates, and only while
// the order is held by an OrderBook.
type Order struct {
	ID        string
	UserID    string
	Market    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Filled    decimal.Decimal
	CreatedAt time.Time
}

// Remaining returns the quantity still unfilled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsFullyFilled reports whether the order has no remaining quantity.
func (o *Order) IsFullyFilled() bool {
	return o.Filled.GreaterThanOrEqual(o.Quantity)
}

func (o *Order) String() string {
	return fmt.Sprintf("Order[id=%s user=%s market=%s side=%s price=%s qty=%s/%s]",
		o.ID, o.UserID, o.Market, o.Side, o.Price, o.Filled, o.Quantity)
}

// Validate checks that an order's static fields are well-formed before it is
// handed to an OrderBook.
func (o *Order) Validate() error {
	if o.Price.IsNegative() || o.Price.IsZero() {
		return fmt.Errorf("invalid price: must be positive")
	}
	if o.Quantity.IsNegative() || o.Quantity.IsZero() {
		return fmt.Errorf("invalid quantity: must be positive")
	}
	return nil
}
