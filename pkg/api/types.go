package api

// Request and response types for the REST endpoints and WebSocket messages.
// Amounts travel as decimal strings so callers never lose precision to
// float64 JSON numbers.

// ==============================
// REST Response Types
// ==============================

// OrderInfo represents one open order.
type OrderInfo struct {
	ID            string `json:"id"`
	PairID        string `json:"pairId"`
	Maker         string `json:"maker"`
	SpecificTaker string `json:"specificTaker,omitempty"` // empty = open to anyone
	SellAsset     string `json:"sellAsset"`
	SellAmount    string `json:"sellAmount"`    // original escrowed amount
	SellRemaining string `json:"sellRemaining"` // still fillable
	BuyAsset      string `json:"buyAsset"`
	BuyAmount     string `json:"buyAmount"` // price for the full original amount
	Expiry        int64  `json:"expiry"`    // unix milliseconds
	FrozenOnMake  bool   `json:"frozenOnMake"`
	CreatedAt     int64  `json:"createdAt"`
}

// PairInfo represents a registered trading pair.
type PairInfo struct {
	ID         string `json:"id"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Frozen     bool   `json:"frozen"`
}

// BalanceInfo represents one holder's position on one asset.
type BalanceInfo struct {
	Asset       string `json:"asset"`
	Holder      string `json:"holder"`
	Available   string `json:"available"`
	Blocked     string `json:"blocked"` // escrowed in open orders
	Whitelisted bool   `json:"whitelisted"`
}

// ExchangeStatus represents the engine's global state.
type ExchangeStatus struct {
	Paused     bool `json:"paused"`
	OpenOrders int  `json:"openOrders"`
	Pairs      int  `json:"pairs"`
}

// SubmitResponse acknowledges an accepted mutation.
type SubmitResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// ErrorResponse is returned on any failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// MakeOrderRequest is the payload for POST /api/v1/orders.
type MakeOrderRequest struct {
	Caller        string `json:"caller"`
	ID            string `json:"id"`
	OnBehalfOf    string `json:"onBehalfOf,omitempty"` // empty = caller is the maker
	SpecificTaker string `json:"specificTaker,omitempty"`
	SellAsset     string `json:"sellAsset"`
	SellAmount    string `json:"sellAmount"`
	BuyAsset      string `json:"buyAsset"`
	BuyAmount     string `json:"buyAmount"`
	Expiry        int64  `json:"expiry"`
}

// TakeLeg is one fill inside a take request.
type TakeLeg struct {
	OrderID    string `json:"orderId"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
	Quantity   string `json:"quantity"`
}

// TakeOrderRequest is the payload for POST /api/v1/orders/take.
type TakeOrderRequest struct {
	Caller string `json:"caller"`
	TakeLeg
	Expiry int64 `json:"expiry"`
}

// TakeOrdersRequest is the payload for POST /api/v1/orders/take-batch.
type TakeOrdersRequest struct {
	Caller string    `json:"caller"`
	Orders []TakeLeg `json:"orders"`
	Expiry int64     `json:"expiry"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Caller  string `json:"caller"`
	OrderID string `json:"orderId"`
}

// CancelOrdersRequest is the payload for POST /api/v1/orders/cancel-batch.
type CancelOrdersRequest struct {
	Caller   string   `json:"caller"`
	OrderIDs []string `json:"orderIds"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket broadcasts.
type WSMessage struct {
	Type string      `json:"type"` // "order_made", "order_taken", "order_cancelled"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to manage its channel set.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orders", "orders:0x..."]
}
