// Package polling holds the process-wide pause/resume flags the REST
// surface's polling-control endpoints toggle (§6): whether the order/P&L
// background loops run on their cron schedule, and whether market-data
// ingestion is considered active. Starting paused does not remove the cron
// registration — a paused job's Run() returns immediately without touching
// upstream or the database.
package polling

import "sync/atomic"

// Controller holds the two independently toggleable polling flags.
type Controller struct {
	orders      atomic.Bool
	marketData  atomic.Bool
}

// New constructs a Controller with both loops active.
func New() *Controller {
	c := &Controller{}
	c.orders.Store(true)
	c.marketData.Store(true)
	return c
}

// OrdersActive reports whether the P&L and reconciliation loops should run
// on their next tick. The health-check loop does not consult this flag.
func (c *Controller) OrdersActive() bool { return c.orders.Load() }

// StartOrders resumes the P&L and reconciliation loops.
func (c *Controller) StartOrders() { c.orders.Store(true) }

// StopOrders pauses the P&L and reconciliation loops.
func (c *Controller) StopOrders() { c.orders.Store(false) }

// MarketDataActive reports whether market-data ingestion is considered active.
func (c *Controller) MarketDataActive() bool { return c.marketData.Load() }

// StartMarketData marks market-data ingestion active.
func (c *Controller) StartMarketData() { c.marketData.Store(true) }

// StopMarketData marks market-data ingestion paused.
func (c *Controller) StopMarketData() { c.marketData.Store(false) }

// Status is the /api/v1/polling/status response body.
type Status struct {
	OrdersActive     bool `json:"orders_active"`
	MarketDataActive bool `json:"market_data_active"`
}

// Snapshot returns the current Status.
func (c *Controller) Snapshot() Status {
	return Status{OrdersActive: c.OrdersActive(), MarketDataActive: c.MarketDataActive()}
}
