// Package broadcaster implements the order fan-out (C6): target resolution,
// per-leg quantity resolution, parallel dispatch with bounded concurrency,
// and per-leg persistence correlated by one broadcast_id per call.
package broadcaster

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
	"github.com/jabez4jc/tradecontrol/internal/scheduler"
)

// maxFanOutConcurrency caps simultaneously in-flight upstream calls a single
// broadcast call may use, regardless of how many target instances it has.
const maxFanOutConcurrency = 16

// ClientFactory returns a domain.BrokerClient bound to the given instance.
type ClientFactory func(domain.Instance) domain.BrokerClient

// Request is one call to PlaceOrders.
type Request struct {
	WatchlistID int64
	SymbolIDs   []int64
	Action      domain.OrderAction
	OptionType  string // "CE" or "PE"; only meaningful for options-capable symbols
	ProductType domain.ProductType
	OrderType   domain.OrderType
	Price       *float64

	// ExitReason is recorded on the leg's order row when Action is EXIT, so
	// the position it eventually closes can record the real trigger cause
	// instead of defaulting to a manual close. Left blank for an
	// operator-issued exit.
	ExitReason domain.ExitReason
}

// LegResult is the outcome of one (instance, symbol) leg.
type LegResult struct {
	InstanceID int64   `json:"instance_id"`
	SymbolID   int64   `json:"symbol_id"`
	Success    bool    `json:"success"`
	OrderID    string  `json:"order_id,omitempty"`
	Error      string  `json:"error,omitempty"`
	Quantity   float64 `json:"quantity"`
}

// Summary tallies a broadcast call's leg outcomes.
type Summary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Response is the full result of a PlaceOrders call.
type Response struct {
	BroadcastID string      `json:"broadcast_id"`
	Legs        []LegResult `json:"results"`
	Summary     Summary     `json:"summary"`
}

// Broadcaster fans an order out across every instance bound to a watchlist.
type Broadcaster struct {
	watchlists *repositories.WatchlistRepository
	instances  *repositories.InstanceRepository
	orders     *repositories.OrderRepository
	positions  *repositories.PositionRepository
	cache      *marketcache.Cache
	resolver   domain.ContractResolver
	newClient  ClientFactory
	alertSink  *alerts.Sink

	// marketHours is optional: a nil value (e.g. in tests) skips the
	// market-open gate entirely rather than blocking every leg.
	marketHours *scheduler.MarketHoursService
}

// New constructs a Broadcaster.
func New(
	watchlists *repositories.WatchlistRepository,
	instances *repositories.InstanceRepository,
	orders *repositories.OrderRepository,
	positions *repositories.PositionRepository,
	cache *marketcache.Cache,
	resolver domain.ContractResolver,
	newClient ClientFactory,
	alertSink *alerts.Sink,
	marketHours *scheduler.MarketHoursService,
) *Broadcaster {
	return &Broadcaster{
		watchlists:  watchlists,
		instances:   instances,
		orders:      orders,
		positions:   positions,
		cache:       cache,
		resolver:    resolver,
		newClient:   newClient,
		alertSink:   alertSink,
		marketHours: marketHours,
	}
}

// ResolveQuantity computes a symbol's leg quantity per §4.6's qty_mode
// rules, using fixed-point decimal arithmetic so a division that lands
// exactly on a lot boundary never drifts below it due to floating-point
// representation error.
func ResolveQuantity(sym domain.WatchlistSymbol, instanceBalance float64, ltp *float64) (float64, error) {
	lot := decimal.NewFromInt(int64(sym.LotSize))
	if lot.IsZero() {
		lot = decimal.NewFromInt(1)
	}

	var raw decimal.Decimal

	switch sym.QtyMode {
	case domain.QtyModeFixed:
		qty := decimal.NewFromFloat(sym.QtyValue)
		if sym.QtyUnits == domain.QtyUnitsLots {
			qty = qty.Mul(lot)
		}
		return qty.InexactFloat64(), nil

	case domain.QtyModeCapital:
		if ltp == nil || *ltp <= 0 {
			return 0, apierrors.LTPUnavailable(sym.Exchange, sym.Symbol)
		}
		raw = decimal.NewFromFloat(sym.QtyValue).Div(decimal.NewFromFloat(*ltp))

	case domain.QtyModeFundsPercent:
		if ltp == nil || *ltp <= 0 {
			return 0, apierrors.LTPUnavailable(sym.Exchange, sym.Symbol)
		}
		pct := decimal.NewFromFloat(sym.QtyValue).Div(decimal.NewFromInt(100))
		raw = pct.Mul(decimal.NewFromFloat(instanceBalance)).Div(decimal.NewFromFloat(*ltp))

	default:
		return 0, apierrors.Validation("unknown qty_mode")
	}

	if sym.MinQtyPerClick > 0 {
		min := decimal.NewFromFloat(sym.MinQtyPerClick)
		if raw.LessThan(min) {
			raw = min
		}
	}
	if sym.MaxQtyPerClick > 0 {
		max := decimal.NewFromFloat(sym.MaxQtyPerClick)
		if raw.GreaterThan(max) {
			raw = max
		}
	}

	rounded := roundToLot(raw, lot, sym.Rounding)
	return rounded.InexactFloat64(), nil
}

func roundToLot(raw, lot decimal.Decimal, mode domain.RoundingMode) decimal.Decimal {
	lots := raw.Div(lot)
	switch mode {
	case domain.RoundCeilToLot:
		return lots.Ceil().Mul(lot)
	case domain.RoundNearestToLot:
		return lots.Round(0).Mul(lot)
	default: // floor_to_lot
		return lots.Floor().Mul(lot)
	}
}

// resolveSymbol resolves the tradable exchange/symbol pair for a leg,
// substituting an options contract via the resolver when the request asks
// for one.
func (b *Broadcaster) resolveSymbol(ctx context.Context, req Request, sym domain.WatchlistSymbol) (exchange, symbol string, err error) {
	if req.OptionType == "" || !sym.CanTradeOptions {
		return sym.Exchange, sym.Symbol, nil
	}
	if b.resolver == nil {
		return "", "", apierrors.New(apierrors.KindValidation, "no contract resolver configured for options orders")
	}
	return b.resolver.ResolveOptionContract(ctx, sym.Symbol, req.OptionType, sym.OptionsStrikeOffset)
}

// PlaceOrders resolves targets, resolves each leg's quantity, and dispatches
// every (instance, symbol) pair in parallel.
func (b *Broadcaster) PlaceOrders(ctx context.Context, req Request) (Response, error) {
	broadcastID := uuid.NewString()

	excludeAnalyzer := req.Action != domain.ActionExit
	targetIDs, err := b.watchlists.BoundInstanceIDs(ctx, req.WatchlistID, true, excludeAnalyzer)
	if err != nil {
		return Response{}, err
	}
	if len(targetIDs) == 0 {
		return Response{}, apierrors.Validation("no active instances bound to this watchlist")
	}

	symbols, err := b.watchlists.GetSymbolsByIDs(ctx, req.SymbolIDs)
	if err != nil {
		return Response{}, err
	}

	type leg struct {
		instanceID int64
		sym        domain.WatchlistSymbol
	}
	var legs []leg
	for _, instanceID := range targetIDs {
		for _, sym := range symbols {
			legs = append(legs, leg{instanceID: instanceID, sym: sym})
		}
	}

	results := make([]LegResult, len(legs))
	sem := make(chan struct{}, maxFanOutConcurrency)
	var wg sync.WaitGroup

	for i, l := range legs {
		wg.Add(1)
		go func(i int, l leg) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = b.dispatchLeg(ctx, req, broadcastID, l.instanceID, l.sym)
		}(i, l)
	}
	wg.Wait()

	summary := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	if summary.Failed > 0 && summary.Successful > 0 {
		b.alertSink.Emit(ctx, domain.SystemAlert{
			AlertType: domain.AlertPartialOrderFailure,
			Severity:  domain.SeverityWarning,
			Title:     "partial order fan-out failure",
			Message:   fmt.Sprintf("%d of %d legs failed", summary.Failed, summary.Total),
			Details:   map[string]interface{}{"broadcast_id": broadcastID},
		})
	}

	return Response{BroadcastID: broadcastID, Legs: results, Summary: summary}, nil
}

func (b *Broadcaster) dispatchLeg(ctx context.Context, req Request, broadcastID string, instanceID int64, sym domain.WatchlistSymbol) LegResult {
	result := LegResult{InstanceID: instanceID, SymbolID: sym.ID}

	inst, err := b.instances.Get(ctx, instanceID)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	exchange, symbol, err := b.resolveSymbol(ctx, req, sym)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if b.marketHours != nil && !b.marketHours.IsMarketOpen(exchange) {
		result.Error = fmt.Sprintf("%s is closed for trading", exchange)
		return result
	}

	var ltp *float64
	if row, ok := b.cache.Get(exchange, symbol); ok {
		v := row.LTP
		ltp = &v
	}

	quantity, err := ResolveQuantity(sym, inst.CurrentBalance, ltp)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Quantity = quantity

	productType := sym.ProductType
	if req.ProductType != "" {
		productType = req.ProductType
	}
	orderType := sym.OrderType
	if req.OrderType != "" {
		orderType = req.OrderType
	}

	orderRow := domain.WatchlistOrder{
		WatchlistID: req.WatchlistID,
		InstanceID:  instanceID,
		SymbolID:    sym.ID,
		BroadcastID: broadcastID,
		Action:      req.Action,
		Quantity:    quantity,
		OrderType:   orderType,
		ProductType: productType,
		Price:       req.Price,
	}
	wr, err := b.orders.Create(ctx, orderRow)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	orderRowID := wr.LastInsertedID

	client := b.newClient(inst)

	if req.Action == domain.ActionExit {
		if _, err := client.ClosePosition(ctx, symbol); err != nil {
			b.markRejected(ctx, orderRowID, err)
			result.Error = err.Error()
			return result
		}
		if _, markErr := b.orders.MarkDispatched(ctx, orderRowID, domain.OrderStatusOpen, "", string(req.ExitReason)); markErr != nil {
			result.Error = markErr.Error()
			return result
		}
		result.Success = true
		return result
	}

	placeReq := domain.PlaceOrderRequest{
		Exchange:    exchange,
		Symbol:      symbol,
		Action:      req.Action,
		Quantity:    quantity,
		OrderType:   orderType,
		ProductType: productType,
		Price:       req.Price,
	}
	placed, _, err := client.PlaceSmartOrder(ctx, placeReq)
	if err != nil {
		b.markRejected(ctx, orderRowID, err)
		result.Error = err.Error()
		return result
	}

	if _, err := b.orders.MarkDispatched(ctx, orderRowID, domain.OrderStatusOpen, placed.OrderID, ""); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.OrderID = placed.OrderID
	return result
}

func (b *Broadcaster) markRejected(ctx context.Context, orderRowID int64, err error) {
	if _, markErr := b.orders.MarkDispatched(ctx, orderRowID, domain.OrderStatusRejected, "", err.Error()); markErr != nil {
		return
	}
}
