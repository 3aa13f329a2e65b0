package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// rpcServer is a minimal JSON-RPC node answering eth_blockNumber.
func rpcServer(t *testing.T, block uint64, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			http.Error(w, "simulated outage", http.StatusInternalServerError)
			return
		}

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		switch req.Method {
		case "eth_blockNumber":
			resp["result"] = "0x" + intToHex(block)
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func intToHex(n uint64) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n&0xf]
		n >>= 4
	}
	return string(buf[i:])
}

func newTestPool(t *testing.T, urls ...string) *Pool {
	t.Helper()

	pool, err := NewPool(PoolConfig{
		Endpoints:   urls,
		CallTimeout: 2 * time.Second,
		Cooldown:    time.Minute,
	}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func blockNumberCall(ctx context.Context, client *ethclient.Client) error {
	_, err := client.BlockNumber(ctx)
	return err
}

func TestPool_FailoverToSecondEndpoint(t *testing.T) {
	var alwaysFail atomic.Bool
	alwaysFail.Store(true)

	bad := rpcServer(t, 0, &alwaysFail)
	defer bad.Close()
	good := rpcServer(t, 1234, nil)
	defer good.Close()

	pool := newTestPool(t, bad.URL, good.URL)

	block, err := Call(context.Background(), pool, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	require.NoError(t, err, "call must succeed via the second endpoint")
	require.Equal(t, uint64(1234), block)

	health := pool.Health()
	require.False(t, health[0].Healthy, "failing endpoint must be marked unhealthy")
	require.Equal(t, 1, health[0].ConsecutiveFailures)
	require.True(t, health[1].Healthy)
}

func TestPool_AllEndpointsExhausted(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	a := rpcServer(t, 0, &fail)
	defer a.Close()
	b := rpcServer(t, 0, &fail)
	defer b.Close()

	pool := newTestPool(t, a.URL, b.URL)

	err := pool.Execute(context.Background(), blockNumberCall)
	require.Error(t, err)
	require.True(t, apperror.IsCode(err, apperror.CodeAllEndpointsExhausted))

	for _, h := range pool.Health() {
		require.False(t, h.Healthy)
	}
}

func TestPool_CooldownReentry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	srv := rpcServer(t, 42, &fail)
	defer srv.Close()

	pool, err := NewPool(PoolConfig{
		Endpoints:   []string{srv.URL},
		CallTimeout: 2 * time.Second,
		Cooldown:    50 * time.Millisecond,
	}, logger.NewDiscard())
	require.NoError(t, err)
	defer pool.Close()

	require.Error(t, pool.Execute(context.Background(), blockNumberCall))
	require.False(t, pool.Healthy(), "endpoint is cooling down")

	// The endpoint recovers and its cooldown expires: it must re-enter
	// rotation without an explicit health-check pass.
	fail.Store(false)
	time.Sleep(80 * time.Millisecond)

	require.True(t, pool.Healthy())
	require.NoError(t, pool.Execute(context.Background(), blockNumberCall))
	require.True(t, pool.Health()[0].Healthy)
}

func TestPool_PrefersFirstEndpoint(t *testing.T) {
	first := rpcServer(t, 100, nil)
	defer first.Close()
	second := rpcServer(t, 200, nil)
	defer second.Close()

	pool := newTestPool(t, first.URL, second.URL)

	block, err := Call(context.Background(), pool, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(100), block, "healthy first endpoint must be preferred")
}

func TestPool_RequiresEndpoints(t *testing.T) {
	_, err := NewPool(PoolConfig{}, logger.NewDiscard())
	require.Error(t, err)
	require.True(t, apperror.IsCode(err, apperror.CodeNoHealthyEndpoints))
}
