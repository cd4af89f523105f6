package matching

import "errors"

// Sentinel errors surfaced by an OrderBook. The engine turns these into
// ERROR replies (see internal/engine).
var (
	ErrOrderNotFound = errors.New("order not found")
)
