// Package mempool watches pending transactions over a WebSocket
// endpoint and signals when activity touches a watched pool. The
// watcher only produces scan triggers; it never executes anything
// itself, and every trigger still passes the full safety pipeline.
package mempool

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	ethpool "github.com/fd1az/dex-arb-engine/business/blockchain/infra/ethereum"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/ratelimit"
	"github.com/fd1az/dex-arb-engine/internal/wsconn"
)

const (
	meterName = "arbitrage.mempool"

	// lookupsPerSecond bounds how many pending hashes get resolved to
	// full transactions. Busy chains push thousands of hashes a minute;
	// resolving them all would starve the scan loop's RPC budget.
	lookupsPerSecond = 5
	lookupBurst      = 10

	// triggerDebounce collapses bursts of matching activity into one
	// trigger.
	triggerDebounce = 3 * time.Second
)

type watcherMetrics struct {
	hashes   metric.Int64Counter
	lookups  metric.Int64Counter
	matches  metric.Int64Counter
	triggers metric.Int64Counter
}

// Watcher subscribes to newPendingTransactions and resolves a rate-
// limited sample of hashes. When a pending transaction targets a
// watched address, a trigger is emitted so the engine can scan ahead
// of its regular interval.
type Watcher struct {
	ws      *wsconn.Client
	pool    *ethpool.Pool
	watched map[common.Address]struct{}
	limiter *ratelimit.Limiter
	logger  logger.LoggerInterface
	metrics *watcherMetrics

	triggers chan struct{}

	mu          sync.Mutex
	lastTrigger time.Time
}

// subscribeRequest is the eth_subscribe frame for pending tx hashes.
type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// subscriptionMessage is the inbound notification shape. Responses to
// the subscribe call itself have no params and are ignored.
type subscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Result string `json:"result"`
	} `json:"params"`
}

// NewWatcher creates a mempool watcher over the given WebSocket URL,
// watching the given pool addresses.
func NewWatcher(wsURL string, watched []common.Address, pool *ethpool.Pool, log logger.LoggerInterface) (*Watcher, error) {
	ws, err := wsconn.New(wsconn.DefaultConfig(wsURL, "mempool"))
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		ws:       ws,
		pool:     pool,
		watched:  make(map[common.Address]struct{}, len(watched)),
		limiter:  ratelimit.NewWithBurst(lookupsPerSecond, lookupBurst),
		logger:   log,
		triggers: make(chan struct{}, 1),
	}
	for _, addr := range watched {
		w.watched[addr] = struct{}{}
	}

	if err := w.initMetrics(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Watcher) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	w.metrics = &watcherMetrics{}

	w.metrics.hashes, err = meter.Int64Counter(
		"mempool_pending_hashes_total",
		metric.WithDescription("Pending transaction hashes received"),
		metric.WithUnit("{hash}"),
	)
	if err != nil {
		return err
	}

	w.metrics.lookups, err = meter.Int64Counter(
		"mempool_lookups_total",
		metric.WithDescription("Pending hashes resolved to transactions"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	w.metrics.matches, err = meter.Int64Counter(
		"mempool_matches_total",
		metric.WithDescription("Pending transactions touching a watched pool"),
		metric.WithUnit("{match}"),
	)
	if err != nil {
		return err
	}

	w.metrics.triggers, err = meter.Int64Counter(
		"mempool_triggers_total",
		metric.WithDescription("Scan triggers emitted"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Triggers is the channel the engine consumes. It has capacity one; a
// trigger that arrives while one is pending is dropped, which is the
// desired coalescing.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Start connects and subscribes. Message handling runs on the wsconn
// read loop until Close.
func (w *Watcher) Start(ctx context.Context) error {
	w.ws.OnMessage(func(ctx context.Context, msg []byte) {
		w.handleMessage(ctx, msg)
	})
	w.ws.OnStateChange(func(state wsconn.State, err error) {
		if state == wsconn.StateConnected {
			// Re-subscribe on every (re)connect; subscriptions do not
			// survive the transport.
			if subErr := w.subscribe(context.Background()); subErr != nil {
				w.logger.Warn(context.Background(), "mempool resubscribe failed", "error", subErr)
			}
		}
		if err != nil {
			w.logger.Warn(context.Background(), "mempool connection state changed",
				"state", string(state), "error", err)
		}
	})

	if err := w.ws.Connect(ctx); err != nil {
		return err
	}
	return w.subscribe(ctx)
}

func (w *Watcher) subscribe(ctx context.Context) error {
	return w.ws.SendJSON(ctx, subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newPendingTransactions"},
	})
}

func (w *Watcher) handleMessage(ctx context.Context, msg []byte) {
	var note subscriptionMessage
	if err := json.Unmarshal(msg, &note); err != nil {
		return
	}
	if note.Method != "eth_subscription" || !strings.HasPrefix(note.Params.Result, "0x") {
		return
	}
	w.metrics.hashes.Add(ctx, 1)

	// Sample, don't drain: skip the hash when over the lookup budget.
	if !w.limiter.Allow() {
		return
	}

	hash := common.HexToHash(note.Params.Result)
	tx, err := ethpool.Call(ctx, w.pool, func(ctx context.Context, client *ethclient.Client) (*types.Transaction, error) {
		tx, _, err := client.TransactionByHash(ctx, hash)
		return tx, err
	})
	if err != nil || tx == nil || tx.To() == nil {
		// Dropped or already-mined transactions are expected noise.
		return
	}
	w.metrics.lookups.Add(ctx, 1)

	if _, ok := w.watched[*tx.To()]; !ok {
		return
	}
	w.metrics.matches.Add(ctx, 1)
	w.trigger(ctx)
}

func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	if time.Since(w.lastTrigger) < triggerDebounce {
		w.mu.Unlock()
		return
	}
	w.lastTrigger = time.Now()
	w.mu.Unlock()

	select {
	case w.triggers <- struct{}{}:
		w.metrics.triggers.Add(ctx, 1)
		w.logger.Debug(ctx, "mempool activity trigger emitted")
	default:
	}
}

// Close tears down the WebSocket connection.
func (w *Watcher) Close() error {
	return w.ws.Close()
}
