package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/database"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/safeswitch"
)

func newTestSafeSwitch(t *testing.T) *safeswitch.Coordinator {
	db := setupTestDB(t)
	instances := repositories.NewInstanceRepository(db.Conn(), zerolog.Nop())
	alertSink := alerts.New(db, zerolog.Nop(), alerts.NewLogNotifier(zerolog.Nop()))
	return safeswitch.New(instances, func(domain.Instance) domain.BrokerClient { return nil }, alertSink, zerolog.Nop())
}

// setupTestDB opens a private in-memory SQLite database. A plain "file::memory:"
// DSN gives every pooled connection its own private database, so the pool is
// pinned to a single connection (matching SetMaxOpenConns(1)) to keep every
// repository call against the one connection that ran the schema migration.
func setupTestDB(t *testing.T) *database.DB {
	db, err := database.New(database.Config{Path: "file::memory:", Profile: database.ProfileStandard, Name: "orchestrator_test"})
	require.NoError(t, err)
	db.Conn().SetMaxOpenConns(1)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateInstance(t *testing.T, instances *repositories.InstanceRepository, inst domain.Instance) int64 {
	wr, err := instances.Create(context.Background(), inst)
	require.NoError(t, err)
	return wr.LastInsertedID
}

// stubClient is a minimal domain.BrokerClient double whose Ping/Funds
// outcomes are set per test; every other method is unused by the orchestrator
// jobs under test and panics if called.
type stubClient struct {
	domain.BrokerClient
	pingErr   error
	funds     domain.FundsResult
	fundsErr  error
	trades    []domain.Trade
	positions []domain.UpstreamPosition
}

func (s *stubClient) Ping(ctx context.Context) (domain.Envelope, error) {
	return domain.Envelope{}, s.pingErr
}

func (s *stubClient) Funds(ctx context.Context) (domain.FundsResult, domain.Envelope, error) {
	return s.funds, domain.Envelope{}, s.fundsErr
}

func (s *stubClient) TradeBook(ctx context.Context) ([]domain.Trade, domain.Envelope, error) {
	return s.trades, domain.Envelope{}, nil
}

func (s *stubClient) PositionBook(ctx context.Context) ([]domain.UpstreamPosition, domain.Envelope, error) {
	return s.positions, domain.Envelope{}, nil
}

func TestCheckOne_FailedPingMarksInstanceInactive(t *testing.T) {
	db := setupTestDB(t)
	instances := repositories.NewInstanceRepository(db.Conn(), zerolog.Nop())

	// Create always stores health_status as "unknown" regardless of the
	// struct literal; only is_active is meaningfully seeded here.
	id := mustCreateInstance(t, instances, domain.Instance{
		Name: "broker-a", HostURL: "http://broker-a", IsActive: true,
	})
	inst, err := instances.Get(context.Background(), id)
	require.NoError(t, err)

	client := &stubClient{pingErr: errors.New("connection refused")}
	job := NewHealthJob(instances, func(domain.Instance) domain.BrokerClient { return client }, alerts.New(db, zerolog.Nop(), alerts.NewLogNotifier(zerolog.Nop())), NewInstanceLocks(), zerolog.Nop())

	job.checkOne(context.Background(), inst)

	after, err := instances.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.HealthUnhealthy, after.HealthStatus)
	require.False(t, after.IsActive)
}

func TestCheckOne_SuccessfulPingLeavesActiveStateUnchanged(t *testing.T) {
	db := setupTestDB(t)
	instances := repositories.NewInstanceRepository(db.Conn(), zerolog.Nop())

	id := mustCreateInstance(t, instances, domain.Instance{
		Name: "broker-b", HostURL: "http://broker-b", IsActive: true,
	})
	inst, err := instances.Get(context.Background(), id)
	require.NoError(t, err)

	client := &stubClient{}
	job := NewHealthJob(instances, func(domain.Instance) domain.BrokerClient { return client }, alerts.New(db, zerolog.Nop(), alerts.NewLogNotifier(zerolog.Nop())), NewInstanceLocks(), zerolog.Nop())

	job.checkOne(context.Background(), inst)

	after, err := instances.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.HealthHealthy, after.HealthStatus)
	require.True(t, after.IsActive)
}

func TestRefreshOne_FundsFailureSuppressesThresholdEvaluationAndMarksUnhealthy(t *testing.T) {
	db := setupTestDB(t)
	instances := repositories.NewInstanceRepository(db.Conn(), zerolog.Nop())

	id := mustCreateInstance(t, instances, domain.Instance{
		Name: "broker-c", HostURL: "http://broker-c", IsActive: true, TargetProfit: 100,
	})
	inst, err := instances.Get(context.Background(), id)
	require.NoError(t, err)

	client := &stubClient{fundsErr: errors.New("upstream timeout")}
	newClient := func(domain.Instance) domain.BrokerClient { return client }
	safeSwitch := newTestSafeSwitch(t)

	job := NewPnLJob(instances, newClient, safeSwitch, nil, NewInstanceLocks(), zerolog.Nop())
	job.refreshOne(context.Background(), inst)

	after, err := instances.Get(context.Background(), id)
	require.NoError(t, err)

	// Funds failure must mark the instance unhealthy/inactive and leave its
	// P&L columns untouched (i.e. threshold evaluation never ran).
	require.Equal(t, domain.HealthUnhealthy, after.HealthStatus)
	require.False(t, after.IsActive)
	require.Equal(t, 0.0, after.TotalPnL)
}

func TestRefreshOne_FundsSuccessComputesPnLAndEvaluatesThreshold(t *testing.T) {
	db := setupTestDB(t)
	instances := repositories.NewInstanceRepository(db.Conn(), zerolog.Nop())

	id := mustCreateInstance(t, instances, domain.Instance{
		Name: "broker-d", HostURL: "http://broker-d", IsActive: true,
	})
	inst, err := instances.Get(context.Background(), id)
	require.NoError(t, err)

	client := &stubClient{
		funds: domain.FundsResult{AvailableBalance: 50000},
		trades: []domain.Trade{
			{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 10},
			{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 122.5, Quantity: 10},
		},
	}
	newClient := func(domain.Instance) domain.BrokerClient { return client }
	safeSwitch := newTestSafeSwitch(t)

	job := NewPnLJob(instances, newClient, safeSwitch, nil, NewInstanceLocks(), zerolog.Nop())
	job.refreshOne(context.Background(), inst)

	after, err := instances.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 225.0, after.RealizedPnL)
	require.Equal(t, 50000.0, after.CurrentBalance)
}
