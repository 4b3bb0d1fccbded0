// Package monitor publishes live run state over WebSocket and Prometheus.
package monitor

import (
	"context"
	"time"

	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/session"
	"simtrader/pkg/concurrency"
	"simtrader/pkg/liveserver"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	accountNetWorth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_account_net_worth",
		Help: "Current account net worth",
	})
	accountCash = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_account_cash",
		Help: "Current account cash balance",
	})
	openOrdersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_open_orders",
		Help: "Current number of open orders",
	})
	positionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_positions",
		Help: "Current number of held positions",
	})
	monitorUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simtrader_monitor_updates_total",
		Help: "Total number of monitor state publishes",
	})
)

func init() {
	prometheus.MustRegister(accountNetWorth, accountCash, openOrdersGauge, positionsGauge, monitorUpdatesTotal)
}

// AccountSnapshot is the account payload pushed to clients.
type AccountSnapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	Mode          core.Mode        `json:"mode"`
	StrategyName  string           `json:"strategy_name"`
	MarketPhase   core.MarketPhase `json:"market_phase"`
	CurrentDT     string           `json:"current_dt"`
	NetWorth      decimal.Decimal  `json:"net_worth"`
	TotalAssets   decimal.Decimal  `json:"total_assets"`
	Cash          decimal.Decimal  `json:"cash"`
	AvailableCash decimal.Decimal  `json:"available_cash"`
	Margin        decimal.Decimal  `json:"margin"`
	Returns       decimal.Decimal  `json:"returns"`
	OpenOrders    int              `json:"open_orders"`
	Positions     int              `json:"positions"`
	IsRunning     bool             `json:"is_running"`
	IsPaused      bool             `json:"is_paused"`
}

// PositionRow is a single position in the positions payload.
type PositionRow struct {
	Symbol       string          `json:"symbol"`
	SymbolName   string          `json:"symbol_name,omitempty"`
	Direction    string          `json:"direction"`
	TotalQty     int64           `json:"total_qty"`
	AvailableQty int64           `json:"available_qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// OrderRow is a single open order in the orders payload.
type OrderRow struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	Quantity    int64     `json:"quantity"`
	LimitPrice  string    `json:"limit_price,omitempty"`
	CreatedTime time.Time `json:"created_time"`
}

// Monitor serves the live dashboard for a running session. Publishes are
// rate limited and pushed from a worker pool, so a slow consumer never
// stalls the scheduler.
type Monitor struct {
	sess   *session.Session
	cfg    config.MonitorConfig
	server *liveserver.Server
	pool   *concurrency.WorkerPool
	limit  *rate.Limiter
	logger core.ILogger
	cancel context.CancelFunc
}

// New creates a monitor for the session.
func New(sess *session.Session, cfg config.MonitorConfig, logger core.ILogger) *Monitor {
	log := logger.WithField("component", "monitor")
	hub := liveserver.NewHub(log)
	perSec := cfg.UpdatesPerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &Monitor{
		sess:   sess,
		cfg:    cfg,
		server: liveserver.NewServer(hub, log, []string{"*"}),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "monitor",
			MaxWorkers:  2,
			MaxCapacity: 16,
			NonBlocking: true,
		}, logger),
		limit:  rate.NewLimiter(rate.Limit(perSec), 1),
		logger: log,
	}
}

// Start brings up the hub and HTTP server in the background.
func (m *Monitor) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go m.server.GetHub().Run(ctx)
	go func() {
		if err := m.server.Start(ctx, m.cfg.ListenAddr); err != nil {
			m.logger.Error("Live server exited", "error", err)
		}
	}()

	m.logger.Info("Monitor started", "addr", m.cfg.ListenAddr)
	return nil
}

// Stop shuts down the server and drains pending publishes.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.pool.Stop()
	m.logger.Info("Monitor stopped")
}

// update is a fully detached copy of the session state to publish. Captured
// on the caller's goroutine so the worker never touches live objects.
type update struct {
	account   AccountSnapshot
	positions []PositionRow
	orders    []OrderRow
	equity    []core.IntradayPoint
	benchmark []core.IntradayPoint
}

// TriggerUpdate captures the current state and schedules its publish. The
// capture runs on the caller (the scheduler thread, where all mutation
// happens); only the push to gauges and sockets goes to the pool. Drops the
// update when the rate limit or the pool queue is exceeded; the next trigger
// carries fresh state anyway.
func (m *Monitor) TriggerUpdate() {
	if !m.limit.Allow() {
		return
	}
	u := m.capture()
	if err := m.pool.Submit(func() { m.publish(u) }); err != nil {
		m.logger.Debug("Monitor update dropped", "error", err)
	}
}

func (m *Monitor) capture() update {
	return update{
		account:   m.accountSnapshot(),
		positions: m.positionRows(),
		orders:    m.orderRows(),
		equity:    m.sess.IntradayEquity(),
		benchmark: m.sess.IntradayBenchmark(),
	}
}

func (m *Monitor) publish(u update) {
	accountNetWorth.Set(u.account.NetWorth.InexactFloat64())
	accountCash.Set(u.account.Cash.InexactFloat64())
	openOrdersGauge.Set(float64(u.account.OpenOrders))
	positionsGauge.Set(float64(u.account.Positions))
	monitorUpdatesTotal.Inc()

	if m.server.ClientCount() == 0 {
		return
	}

	m.server.BroadcastMessage(liveserver.TypeAccount, u.account)
	m.server.BroadcastMessage(liveserver.TypePositions, u.positions)
	m.server.BroadcastMessage(liveserver.TypeOrders, u.orders)
	m.server.BroadcastMessage(liveserver.TypeEquity, u.equity)
	m.server.BroadcastMessage(liveserver.TypeBenchmark, u.benchmark)
}

func (m *Monitor) accountSnapshot() AccountSnapshot {
	p := m.sess.Portfolio
	return AccountSnapshot{
		Timestamp:     time.Now(),
		Mode:          m.sess.Mode(),
		StrategyName:  m.sess.StrategyName(),
		MarketPhase:   m.sess.MarketPhase(),
		CurrentDT:     m.sess.CurrentDT().Format(core.DateTimeLayout),
		NetWorth:      p.NetWorth(),
		TotalAssets:   p.TotalAssets(),
		Cash:          p.Cash(),
		AvailableCash: p.AvailableCash(),
		Margin:        p.Margin(),
		Returns:       p.Returns(),
		OpenOrders:    m.sess.Orders.OpenCount(),
		Positions:     m.sess.Positions.Count(),
		IsRunning:     m.sess.IsRunning(),
		IsPaused:      m.sess.IsPaused(),
	}
}

func (m *Monitor) positionRows() []PositionRow {
	positions := m.sess.Positions.All()
	rows := make([]PositionRow, 0, len(positions))
	for _, pos := range positions {
		rows = append(rows, PositionRow{
			Symbol:       pos.Symbol,
			SymbolName:   pos.SymbolName,
			Direction:    string(pos.Direction),
			TotalQty:     pos.TotalQty,
			AvailableQty: pos.AvailableQty,
			AvgCost:      pos.AvgCost,
			CurrentPrice: pos.CurrentPrice,
		})
	}
	return rows
}

func (m *Monitor) orderRows() []OrderRow {
	open := m.sess.Orders.OpenOrders()
	rows := make([]OrderRow, 0, len(open))
	for _, o := range open {
		row := OrderRow{
			ID:          o.ID,
			Symbol:      o.Symbol,
			Side:        string(o.Side),
			Type:        string(o.Type),
			Quantity:    o.Quantity,
			CreatedTime: o.CreatedTime,
		}
		if o.LimitPrice != nil {
			row.LimitPrice = o.LimitPrice.String()
		}
		rows = append(rows, row)
	}
	return rows
}
