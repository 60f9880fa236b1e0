package domain

import "context"

// Envelope is the uniform response shape every upstream broker-API endpoint
// returns: {status, data, error, message}.
type Envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Succeeded reports whether the envelope carries status=success.
func (e Envelope) Succeeded() bool { return e.Status == "success" }

// FundsResult is the parsed payload of a `funds` call.
type FundsResult struct {
	AvailableBalance float64
}

// OrderBookRow is one row of an upstream `orderbook` response.
type OrderBookRow struct {
	OrderID        string  `json:"orderid"`
	Status         string  `json:"status"`
	FilledQty      float64 `json:"fillshares"`
	AveragePrice   float64 `json:"avgprice"`
}

// PlaceOrderRequest is the payload for `placesmartorder`.
type PlaceOrderRequest struct {
	Exchange    string
	Symbol      string
	Action      OrderAction
	Quantity    float64
	OrderType   OrderType
	ProductType ProductType
	Price       *float64
	TriggerPrice *float64
}

// PlaceOrderResult is the parsed payload of a successful placesmartorder call.
type PlaceOrderResult struct {
	OrderID string
}

// BrokerClient is the capability set a single Instance exposes. Services
// depend on this interface, never on a concrete HTTP implementation, so a
// recorded/stub double can stand in for integration tests (§9 "ambient
// dynamic dispatch becomes an interface abstraction").
type BrokerClient interface {
	Ping(ctx context.Context) (Envelope, error)
	Funds(ctx context.Context) (FundsResult, Envelope, error)
	OrderBook(ctx context.Context) ([]OrderBookRow, Envelope, error)
	TradeBook(ctx context.Context) ([]Trade, Envelope, error)
	PositionBook(ctx context.Context) ([]UpstreamPosition, Envelope, error)
	Analyzer(ctx context.Context) (bool, Envelope, error)
	ToggleAnalyzer(ctx context.Context, mode bool) (Envelope, error)
	PlaceSmartOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, Envelope, error)
	CancelOrder(ctx context.Context, orderID string) (Envelope, error)
	CancelAllOrders(ctx context.Context, strategy string) (Envelope, error)
	ClosePosition(ctx context.Context, strategy string) (Envelope, error)
}

// AlertNotifier forwards CRITICAL-severity alerts to an external gateway
// (pager, webhook, …). The default implementation only logs; a real
// integration plugs in without changing call sites (§6 notification gateway).
type AlertNotifier interface {
	Notify(ctx context.Context, alert SystemAlert) error
}

// ContractResolver resolves an options contract symbol from an underlying,
// option type, and strike offset. External collaborator (§4.6); the
// broadcaster depends only on this narrow capability.
type ContractResolver interface {
	ResolveOptionContract(ctx context.Context, underlying string, optionType string, offset StrikeOffset) (exchange string, symbol string, err error)
}
