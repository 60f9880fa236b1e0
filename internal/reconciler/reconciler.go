// Package reconciler implements the periodic order/position reconciliation
// pass (C7): polls each instance's orderbook, transitions local order and
// position state, and evaluates trailing-stop and exit triggers against the
// market-data cache.
package reconciler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/broadcaster"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
)

// ClientFactory returns a domain.BrokerClient bound to the given instance.
type ClientFactory func(domain.Instance) domain.BrokerClient

// Reconciler runs one polling pass across every instance with pending/open
// orders, and a trailing-stop/exit evaluation across every open position.
type Reconciler struct {
	instances   *repositories.InstanceRepository
	orders      *repositories.OrderRepository
	positions   *repositories.PositionRepository
	watchlists  *repositories.WatchlistRepository
	cache       *marketcache.Cache
	newClient   ClientFactory
	broadcaster *broadcaster.Broadcaster
	alertSink   *alerts.Sink
	log         zerolog.Logger

	running atomic.Bool
}

// New constructs a Reconciler.
func New(
	instances *repositories.InstanceRepository,
	orders *repositories.OrderRepository,
	positions *repositories.PositionRepository,
	watchlists *repositories.WatchlistRepository,
	cache *marketcache.Cache,
	newClient ClientFactory,
	bc *broadcaster.Broadcaster,
	alertSink *alerts.Sink,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		instances:   instances,
		orders:      orders,
		positions:   positions,
		watchlists:  watchlists,
		cache:       cache,
		newClient:   newClient,
		broadcaster: bc,
		alertSink:   alertSink,
		log:         log.With().Str("component", "reconciler").Logger(),
	}
}

// upstreamStatusMap translates an upstream orderbook status string to the
// local OrderStatus vocabulary (§4.7).
func upstreamStatusMap(raw string) domain.OrderStatus {
	switch strings.ToLower(raw) {
	case "pending", "trigger pending":
		return domain.OrderStatusPending
	case "open":
		return domain.OrderStatusOpen
	case "complete":
		return domain.OrderStatusComplete
	case "rejected":
		return domain.OrderStatusRejected
	case "cancelled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatus(strings.ToLower(raw))
	}
}

// Run performs one reconciliation pass. A new tick is skipped entirely if
// the previous pass has not completed.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Debug().Msg("skipping tick: previous reconciliation pass still running")
		return
	}
	defer r.running.Store(false)

	instanceIDs, err := r.orders.DistinctPendingOrOpenInstanceIDs(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list instances with open orders")
	}
	for _, instanceID := range instanceIDs {
		r.reconcileInstanceOrders(ctx, instanceID)
	}

	evalIDs := instanceIDs
	if all, err := r.instances.List(ctx, nil); err != nil {
		r.log.Error().Err(err).Msg("failed to list instances for position evaluation")
	} else {
		evalIDs = make([]int64, 0, len(all))
		for _, inst := range all {
			evalIDs = append(evalIDs, inst.ID)
		}
	}
	r.evaluatePositions(ctx, evalIDs)
}

func (r *Reconciler) reconcileInstanceOrders(ctx context.Context, instanceID int64) {
	inst, err := r.instances.Get(ctx, instanceID)
	if err != nil {
		r.log.Error().Err(err).Int64("instance_id", instanceID).Msg("failed to load instance for reconciliation")
		return
	}

	local, err := r.orders.PendingOrOpenByInstance(ctx, instanceID)
	if err != nil {
		r.log.Error().Err(err).Int64("instance_id", instanceID).Msg("failed to load local orders")
		return
	}
	if len(local) == 0 {
		return
	}

	client := r.newClient(inst)
	upstream, _, err := client.OrderBook(ctx)
	if err != nil {
		r.log.Warn().Err(err).Int64("instance_id", instanceID).Msg("failed to fetch orderbook")
		return
	}

	byOrderID := make(map[string]domain.OrderBookRow, len(upstream))
	for _, row := range upstream {
		byOrderID[row.OrderID] = row
	}

	for _, order := range local {
		row, found := byOrderID[order.OrderID]
		if !found {
			continue // upstream may have evicted it; no evidence to transition on.
		}
		status := upstreamStatusMap(row.Status)
		if status == order.Status {
			continue
		}
		r.applyTransition(ctx, order, status, row)
	}
}

func (r *Reconciler) applyTransition(ctx context.Context, order domain.WatchlistOrder, newStatus domain.OrderStatus, row domain.OrderBookRow) {
	if _, err := r.orders.UpdateFill(ctx, order.ID, newStatus, row.FilledQty, row.AveragePrice); err != nil {
		r.log.Error().Err(err).Int64("order_id", order.ID).Msg("failed to persist order fill")
		return
	}

	switch newStatus {
	case domain.OrderStatusComplete:
		r.onOrderComplete(ctx, order, row)
	case domain.OrderStatusRejected:
		r.onOrderRejected(ctx, order)
	}
}

func (r *Reconciler) onOrderComplete(ctx context.Context, order domain.WatchlistOrder, row domain.OrderBookRow) {
	instanceID := order.InstanceID
	r.alertSink.Emit(ctx, domain.SystemAlert{
		AlertType:  domain.AlertOrderCompleted,
		Severity:   domain.SeverityInfo,
		Title:      "order completed",
		Message:    row.OrderID,
		InstanceID: &instanceID,
	})

	if order.PositionID == nil {
		return
	}
	pos, err := r.positions.Get(ctx, *order.PositionID)
	if err != nil {
		r.log.Error().Err(err).Int64("position_id", *order.PositionID).Msg("failed to load position for order completion")
		return
	}

	if order.Action != domain.ActionExit && pos.Status == domain.PositionPending {
		target, sl := recomputeLevelsFromFill(pos, row.AveragePrice)
		if _, err := r.positions.TransitionToOpen(ctx, pos.ID, row.AveragePrice, target, sl); err != nil {
			r.log.Error().Err(err).Int64("position_id", pos.ID).Msg("failed to transition position to open")
		}
		return
	}

	if order.Action == domain.ActionExit {
		r.closePositionWithPnL(ctx, pos, row.AveragePrice, exitReasonFromMessage(order.Message))
	}
}

// exitReasonFromMessage recovers the trigger reason threaded through an
// exit order's message column (set by exitPosition via
// broadcaster.Request.ExitReason), defaulting to a manual close for an
// operator-issued exit that never set one.
func exitReasonFromMessage(message string) domain.ExitReason {
	switch domain.ExitReason(message) {
	case domain.ExitTargetHit, domain.ExitStopLoss, domain.ExitTrailingStop, domain.ExitOrderRejected, domain.ExitSystemAuto:
		return domain.ExitReason(message)
	default:
		return domain.ExitManual
	}
}

// recomputeLevelsFromFill moves target/SL to the real fill price by keeping
// their absolute-price offsets from the planned entry. Percentage-based
// levels are not rescaled to the fill price; the offset carries over as is.
func recomputeLevelsFromFill(pos domain.WatchlistPosition, fillPrice float64) (target, sl float64) {
	targetOffset := pos.TargetPrice - pos.EntryPrice
	slOffset := pos.SLPrice - pos.EntryPrice
	return fillPrice + targetOffset, fillPrice + slOffset
}

func (r *Reconciler) closePositionWithPnL(ctx context.Context, pos domain.WatchlistPosition, exitPrice float64, reason domain.ExitReason) {
	if _, err := r.positions.Close(ctx, pos.ID, exitPrice, reason); err != nil {
		r.log.Error().Err(err).Int64("position_id", pos.ID).Msg("failed to close position")
		return
	}

	instanceID := pos.InstanceID
	r.alertSink.Emit(ctx, domain.SystemAlert{
		AlertType:  domain.AlertPositionClosed,
		Severity:   domain.SeverityInfo,
		Title:      "position closed",
		Message:    string(reason),
		InstanceID: &instanceID,
		Details:    map[string]interface{}{"exit_price": exitPrice, "entry_price": pos.EntryPrice, "quantity": pos.Quantity},
	})
}

func (r *Reconciler) onOrderRejected(ctx context.Context, order domain.WatchlistOrder) {
	instanceID := order.InstanceID
	r.alertSink.Emit(ctx, domain.SystemAlert{
		AlertType:  domain.AlertOrderRejected,
		Severity:   domain.SeverityError,
		Title:      "order rejected",
		Message:    order.Message,
		InstanceID: &instanceID,
	})

	if order.PositionID != nil {
		if _, err := r.positions.Fail(ctx, *order.PositionID, domain.ExitOrderRejected); err != nil {
			r.log.Error().Err(err).Int64("position_id", *order.PositionID).Msg("failed to fail position after order rejection")
		}
	}
}

// evaluatePositions runs trailing-stop update and exit-trigger evaluation
// for every open position across the given instances, in parallel per
// instance.
func (r *Reconciler) evaluatePositions(ctx context.Context, instanceIDs []int64) {
	var wg sync.WaitGroup
	for _, instanceID := range instanceIDs {
		wg.Add(1)
		go func(instanceID int64) {
			defer wg.Done()
			r.evaluateInstancePositions(ctx, instanceID)
		}(instanceID)
	}
	wg.Wait()
}

func (r *Reconciler) evaluateInstancePositions(ctx context.Context, instanceID int64) {
	open, err := r.positions.OpenByInstance(ctx, instanceID)
	if err != nil {
		r.log.Error().Err(err).Int64("instance_id", instanceID).Msg("failed to load open positions")
		return
	}

	for _, pos := range open {
		sym, err := r.watchlists.GetSymbol(ctx, pos.SymbolID)
		if err != nil {
			continue
		}
		row, ok := r.cache.Get(sym.Exchange, sym.Symbol)
		if !ok {
			continue
		}
		ltp := row.LTP

		if _, err := r.positions.UpdateCurrentPrice(ctx, pos.ID, ltp); err != nil {
			r.log.Error().Err(err).Int64("position_id", pos.ID).Msg("failed to update current price")
		}

		if reason, hit := evaluateExitTrigger(pos, sym, ltp); hit {
			r.exitPosition(ctx, pos, sym, reason)
			continue
		}

		r.updateTrailingStop(ctx, pos, sym, ltp)
	}
}

// evaluateExitTrigger checks target, stop-loss, then trailing-stop in that
// order, returning the first one hit.
func evaluateExitTrigger(pos domain.WatchlistPosition, sym domain.WatchlistSymbol, ltp float64) (domain.ExitReason, bool) {
	long := pos.Direction == domain.DirectionLong

	if sym.TargetType != domain.TargetTypeNone && pos.TargetPrice != 0 {
		if (long && ltp >= pos.TargetPrice) || (!long && ltp <= pos.TargetPrice) {
			return domain.ExitTargetHit, true
		}
	}
	if sym.SLType != domain.TargetTypeNone && pos.SLPrice != 0 {
		if (long && ltp <= pos.SLPrice) || (!long && ltp >= pos.SLPrice) {
			return domain.ExitStopLoss, true
		}
	}
	if pos.TrailingActivated && pos.TrailingStopPrice != 0 {
		if (long && ltp <= pos.TrailingStopPrice) || (!long && ltp >= pos.TrailingStopPrice) {
			return domain.ExitTrailingStop, true
		}
	}
	return "", false
}

func (r *Reconciler) exitPosition(ctx context.Context, pos domain.WatchlistPosition, sym domain.WatchlistSymbol, reason domain.ExitReason) {
	_, err := r.broadcaster.PlaceOrders(ctx, broadcaster.Request{
		WatchlistID: pos.WatchlistID,
		SymbolIDs:   []int64{sym.ID},
		Action:      domain.ActionExit,
		ExitReason:  reason,
	})
	if err != nil {
		r.log.Error().Err(err).Int64("position_id", pos.ID).Str("reason", string(reason)).Msg("failed to dispatch exit for trigger")
	}
}

// updateTrailingStop implements §4.7's four-step trailing-stop algorithm.
func (r *Reconciler) updateTrailingStop(ctx context.Context, pos domain.WatchlistPosition, sym domain.WatchlistSymbol, ltp float64) {
	if sym.TSType == domain.TargetTypeNone || sym.TSValue == 0 {
		return
	}

	long := pos.Direction == domain.DirectionLong
	activated := pos.TrailingActivated
	stopPrice := pos.TrailingStopPrice
	highest := pos.HighestPriceSeen
	lowest := pos.LowestPriceSeen

	if !activated {
		if shouldActivateTrailing(sym, pos, ltp) {
			activated = true
			stopPrice = trailingStopFromReference(ltp, sym, long)
			instanceID := pos.InstanceID
			r.alertSink.Emit(ctx, domain.SystemAlert{
				AlertType:  domain.AlertTrailingStopActivated,
				Severity:   domain.SeverityInfo,
				Title:      "trailing stop activated",
				InstanceID: &instanceID,
				Details:    map[string]interface{}{"position_id": pos.ID, "stop_price": stopPrice},
			})
		}
	}

	if long {
		if ltp > highest {
			highest = ltp
		}
	} else {
		if lowest == 0 || ltp < lowest {
			lowest = ltp
		}
	}

	if activated {
		extremum := highest
		if !long {
			extremum = lowest
		}
		candidate := trailingStopFromReference(extremum, sym, long)

		// Monotonicity: trailing never retreats.
		if long && candidate > stopPrice {
			stopPrice = candidate
		} else if !long && (stopPrice == 0 || candidate < stopPrice) {
			stopPrice = candidate
		}
	}

	if activated != pos.TrailingActivated || stopPrice != pos.TrailingStopPrice || highest != pos.HighestPriceSeen || lowest != pos.LowestPriceSeen {
		if _, err := r.positions.UpdateTrailing(ctx, pos.ID, stopPrice, activated, highest, lowest); err != nil {
			r.log.Error().Err(err).Int64("position_id", pos.ID).Msg("failed to persist trailing stop update")
		}
	}
}

func shouldActivateTrailing(sym domain.WatchlistSymbol, pos domain.WatchlistPosition, ltp float64) bool {
	long := pos.Direction == domain.DirectionLong

	switch sym.TrailingActivationType {
	case domain.TrailingActivationImmediate:
		return true
	case domain.TrailingActivationAfterTarget:
		if pos.TargetPrice == 0 {
			return false
		}
		if long {
			return ltp >= pos.TargetPrice
		}
		return ltp <= pos.TargetPrice
	case domain.TrailingActivationAfterMove:
		v := sym.TrailingActivationValue
		var threshold float64
		if v < 100 {
			threshold = pos.EntryPrice * (v / 100)
		} else {
			threshold = v
		}
		move := ltp - pos.EntryPrice
		if move < 0 {
			move = -move
		}
		return move >= threshold
	default:
		return false
	}
}

// trailingStopFromReference computes a candidate trailing-stop price from a
// reference price (current LTP on activation, or the tracked extremum on
// subsequent recalculation) using the symbol's ts_type/ts_value.
func trailingStopFromReference(reference float64, sym domain.WatchlistSymbol, long bool) float64 {
	var offset float64
	if sym.TSType == domain.TargetTypePercentage {
		offset = reference * (sym.TSValue / 100)
	} else {
		offset = sym.TSValue
	}
	if long {
		return reference - offset
	}
	return reference + offset
}
