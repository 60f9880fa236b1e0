// Package domain holds the shared entities and capability interfaces that every
// component of the control plane depends on: instances, watchlists, orders,
// positions, market data, and alerts.
package domain

import "time"

// HealthStatus is the last observed reachability of an instance.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// MarketDataRole describes whether an instance's quotes are used to drive
// capital/funds_percent quantity resolution for other instances.
type MarketDataRole string

const (
	MarketDataRoleNone      MarketDataRole = "none"
	MarketDataRolePrimary   MarketDataRole = "primary"
	MarketDataRoleSecondary MarketDataRole = "secondary"
)

// Instance is a registered upstream broker-API endpoint with its own
// credential and state. host_url is unique; api_key is write-only from the
// operator boundary and must never be serialized back out.
type Instance struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	HostURL          string         `json:"host_url"`
	APIKey           string         `json:"-"`
	StrategyTag      string         `json:"strategy_tag,omitempty"`
	TargetProfit     float64        `json:"target_profit"`
	TargetLoss       float64        `json:"target_loss"`
	IsActive         bool           `json:"is_active"`
	IsAnalyzerMode   bool           `json:"is_analyzer_mode"`
	HealthStatus     HealthStatus   `json:"health_status"`
	LastHealthCheck  *time.Time     `json:"last_health_check,omitempty"`
	CurrentBalance   float64        `json:"current_balance"`
	RealizedPnL      float64        `json:"realized_pnl"`
	UnrealizedPnL    float64        `json:"unrealized_pnl"`
	TotalPnL         float64        `json:"total_pnl"`
	MarketDataRole   MarketDataRole `json:"market_data_role"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// Watchlist groups tradable symbols and is bound to zero or more instances.
type Watchlist struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// QtyMode selects how a WatchlistSymbol's order quantity is derived.
type QtyMode string

const (
	QtyModeFixed        QtyMode = "fixed"
	QtyModeCapital      QtyMode = "capital"
	QtyModeFundsPercent QtyMode = "funds_percent"
)

// QtyUnits distinguishes raw unit counts from lot counts; only meaningful
// when QtyMode is fixed.
type QtyUnits string

const (
	QtyUnitsUnits QtyUnits = "units"
	QtyUnitsLots  QtyUnits = "lots"
)

// RoundingMode controls how a resolved quantity snaps to a lot boundary.
type RoundingMode string

const (
	RoundFloorToLot   RoundingMode = "floor_to_lot"
	RoundNearestToLot RoundingMode = "nearest_lot"
	RoundCeilToLot    RoundingMode = "ceil_to_lot"
)

// ProductType is the upstream margin/delivery product.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"
	ProductCNC  ProductType = "CNC"
	ProductNRML ProductType = "NRML"
)

// OrderType is the upstream order variety.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSL     OrderType = "SL"
	OrderTypeSLM    OrderType = "SL-M"
)

// StrikeOffset selects an option contract relative to the underlying's ATM strike.
type StrikeOffset string

const (
	StrikeITM2 StrikeOffset = "ITM2"
	StrikeITM1 StrikeOffset = "ITM1"
	StrikeATM  StrikeOffset = "ATM"
	StrikeOTM1 StrikeOffset = "OTM1"
	StrikeOTM2 StrikeOffset = "OTM2"
)

// TargetType selects how a symbol's profit target is expressed.
type TargetType string

const (
	TargetTypeNone       TargetType = "NONE"
	TargetTypePercentage TargetType = "PERCENTAGE"
	TargetTypePoints     TargetType = "POINTS"
)

// TrailingActivationType selects when a symbol's trailing stop arms.
type TrailingActivationType string

const (
	TrailingActivationImmediate   TrailingActivationType = "IMMEDIATE"
	TrailingActivationAfterTarget TrailingActivationType = "AFTER_TARGET"
	TrailingActivationAfterMove   TrailingActivationType = "AFTER_MOVE"
)

// WatchlistSymbol is a tradable contract within a watchlist, carrying its own
// sizing and exit configuration.
type WatchlistSymbol struct {
	ID                      int64                  `json:"id"`
	WatchlistID             int64                  `json:"watchlist_id"`
	Exchange                string                 `json:"exchange"`
	Symbol                  string                 `json:"symbol"`
	Token                   string                 `json:"token,omitempty"`
	LotSize                 int                    `json:"lot_size"`
	QtyMode                 QtyMode                `json:"qty_mode"`
	QtyValue                float64                `json:"qty_value"`
	QtyUnits                QtyUnits               `json:"qty_units,omitempty"`
	MinQtyPerClick          float64                `json:"min_qty_per_click,omitempty"`
	MaxQtyPerClick          float64                `json:"max_qty_per_click,omitempty"`
	CapitalCeilingPerTrade  float64                `json:"capital_ceiling_per_trade,omitempty"`
	ContractMultiplier      float64                `json:"contract_multiplier"`
	Rounding                RoundingMode           `json:"rounding"`
	ProductType             ProductType            `json:"product_type"`
	OrderType               OrderType              `json:"order_type"`
	CanTradeEquity          bool                   `json:"can_trade_equity"`
	CanTradeFutures         bool                   `json:"can_trade_futures"`
	CanTradeOptions         bool                   `json:"can_trade_options"`
	OptionsStrikeOffset     StrikeOffset           `json:"options_strike_offset,omitempty"`
	OptionsExpiryMode       string                 `json:"options_expiry_mode,omitempty"`
	TargetType              TargetType             `json:"target_type"`
	TargetValue             float64                `json:"target_value,omitempty"`
	SLType                  TargetType             `json:"sl_type,omitempty"`
	SLValue                 float64                `json:"sl_value,omitempty"`
	TSType                  TargetType             `json:"ts_type,omitempty"`
	TSValue                 float64                `json:"ts_value,omitempty"`
	TrailingActivationType  TrailingActivationType `json:"trailing_activation_type,omitempty"`
	TrailingActivationValue float64                `json:"trailing_activation_value,omitempty"`
	MaxPositionSize         float64                `json:"max_position_size,omitempty"`
	MaxInstances            int                    `json:"max_instances,omitempty"`
	IsEnabled               bool                   `json:"is_enabled"`
}

// fnoExchanges are the exchanges on which lot-size multiples are enforced.
var fnoExchanges = map[string]bool{"NFO": true, "BFO": true, "MCX": true}

// IsFNO reports whether exchange is one on which fixed quantity must respect
// the lot-size invariant.
func IsFNO(exchange string) bool { return fnoExchanges[exchange] }

// WatchlistInstanceBinding links a watchlist to an instance it broadcasts to.
type WatchlistInstanceBinding struct {
	WatchlistID int64 `json:"watchlist_id"`
	InstanceID  int64 `json:"instance_id"`
}

// OrderAction is the operator-facing action for a broadcast leg.
type OrderAction string

const (
	ActionBuy   OrderAction = "BUY"
	ActionSell  OrderAction = "SELL"
	ActionShort OrderAction = "SHORT"
	ActionCover OrderAction = "COVER"
	ActionExit  OrderAction = "EXIT"
)

// OrderStatus is the local lifecycle state of a WatchlistOrder leg.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusComplete  OrderStatus = "complete"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// WatchlistOrder is one per-instance leg of a fan-out order.
type WatchlistOrder struct {
	ID              int64       `json:"id"`
	WatchlistID     int64       `json:"watchlist_id"`
	InstanceID      int64       `json:"instance_id"`
	SymbolID        int64       `json:"symbol_id"`
	BroadcastID     string      `json:"broadcast_id"`
	Action          OrderAction `json:"action"`
	Quantity        float64     `json:"quantity"`
	OrderType       OrderType   `json:"order_type"`
	ProductType     ProductType `json:"product_type"`
	Price           *float64    `json:"price,omitempty"`
	TriggerPrice    *float64    `json:"trigger_price,omitempty"`
	Status          OrderStatus `json:"status"`
	OrderID         string      `json:"order_id,omitempty"`
	FilledQuantity  float64     `json:"filled_quantity"`
	AveragePrice    float64     `json:"average_price"`
	PositionID      *int64      `json:"position_id,omitempty"`
	Message         string      `json:"message,omitempty"`
	PlacedAt        time.Time   `json:"placed_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// PositionDirection is the side of a WatchlistPosition.
type PositionDirection string

const (
	DirectionLong  PositionDirection = "LONG"
	DirectionShort PositionDirection = "SHORT"
)

// PositionStatus is the lifecycle state of a WatchlistPosition.
type PositionStatus string

const (
	PositionPending PositionStatus = "PENDING"
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
	PositionFailed  PositionStatus = "FAILED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitManual         ExitReason = "MANUAL"
	ExitTargetHit      ExitReason = "TARGET_HIT"
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitOrderRejected  ExitReason = "ORDER_REJECTED"
	ExitSystemAuto     ExitReason = "SYSTEM_AUTO"
)

// WatchlistPosition tracks one open or closed position for a symbol on an instance.
type WatchlistPosition struct {
	ID                 int64             `json:"id"`
	WatchlistID        int64             `json:"watchlist_id"`
	InstanceID         int64             `json:"instance_id"`
	SymbolID           int64             `json:"symbol_id"`
	Direction          PositionDirection `json:"direction"`
	Quantity           float64           `json:"quantity"`
	EntryPrice         float64           `json:"entry_price"`
	CurrentPrice       float64           `json:"current_price"`
	ExitPrice          *float64          `json:"exit_price,omitempty"`
	TargetPrice        float64           `json:"target_price,omitempty"`
	SLPrice            float64           `json:"sl_price,omitempty"`
	TrailingStopPrice  float64           `json:"trailing_stop_price,omitempty"`
	TrailingActivated  bool              `json:"trailing_activated"`
	HighestPriceSeen   float64           `json:"highest_price_seen,omitempty"`
	LowestPriceSeen    float64           `json:"lowest_price_seen,omitempty"`
	Status             PositionStatus    `json:"status"`
	IsClosed           bool              `json:"is_closed"`
	ExitReason         ExitReason        `json:"exit_reason,omitempty"`
	EnteredAt          time.Time         `json:"entered_at"`
	ExitedAt           *time.Time        `json:"exited_at,omitempty"`
}

// MarketDataRow is the latest observed quote for one exchange+symbol pair.
type MarketDataRow struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Token       string    `json:"token,omitempty"`
	LTP         float64   `json:"ltp"`
	Open        float64   `json:"open,omitempty"`
	High        float64   `json:"high,omitempty"`
	Low         float64   `json:"low,omitempty"`
	Close       float64   `json:"close,omitempty"`
	Volume      float64   `json:"volume,omitempty"`
	BidPrice    float64   `json:"bid_price,omitempty"`
	BidQty      float64   `json:"bid_qty,omitempty"`
	AskPrice    float64   `json:"ask_price,omitempty"`
	AskQty      float64   `json:"ask_qty,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	DataSource  string    `json:"data_source,omitempty"`
}

// Key returns the (exchange, symbol) cache key for a MarketDataRow.
func (m MarketDataRow) Key() string { return m.Exchange + ":" + m.Symbol }

// AlertSeverity ranks a SystemAlert for UI sorting and critical-path forwarding.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityError    AlertSeverity = "ERROR"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertType enumerates the recognized categories of SystemAlert.
type AlertType string

const (
	AlertInstanceOffline      AlertType = "INSTANCE_OFFLINE"
	AlertAnalyzerAutoSwitch   AlertType = "ANALYZER_AUTO_SWITCH"
	AlertPartialOrderFailure  AlertType = "PARTIAL_ORDER_FAILURE"
	AlertOrderCompleted       AlertType = "ORDER_COMPLETED"
	AlertOrderRejected        AlertType = "ORDER_REJECTED"
	AlertPositionClosed       AlertType = "POSITION_CLOSED"
	AlertTrailingStopActivated AlertType = "TRAILING_STOP_ACTIVATED"
	AlertSafeSwitchFailed     AlertType = "SAFE_SWITCH_FAILED"
)

// SystemAlert is an append-then-patched record of a notable control-plane event.
type SystemAlert struct {
	ID          int64                  `json:"id"`
	AlertType   AlertType              `json:"alert_type"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	InstanceID  *int64                 `json:"instance_id,omitempty"`
	WatchlistID *int64                 `json:"watchlist_id,omitempty"`
	IsResolved  bool                   `json:"is_resolved"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy  string                 `json:"resolved_by,omitempty"`
}

// Trade is one row of an upstream tradebook, the input to the P&L engine's
// realized-P&L computation.
type Trade struct {
	Symbol   string
	Action   OrderAction // BUY or SELL
	Price    float64
	Quantity float64
}

// UpstreamPosition is one row of an upstream positionbook.
type UpstreamPosition struct {
	Symbol string
	NetQty float64
	PnL    float64
}
