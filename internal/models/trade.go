package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fill is one match between an incoming taker order and a resting maker
// order. Price is always the maker's price: price improvement accrues to
// the taker.
type Fill struct {
	Qty          decimal.Decimal
	Price        decimal.Decimal
	TradeID      int64
	MakerOrderID string
	MakerUserID  string
}

func (f Fill) String() string {
	return fmt.Sprintf("Fill[trade=%d price=%s qty=%s maker_order=%s maker_user=%s]",
		f.TradeID, f.Price, f.Qty, f.MakerOrderID, f.MakerUserID)
}
