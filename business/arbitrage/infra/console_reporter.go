// Package infra holds the arbitrage context's outbound adapters.
package infra

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/app"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
)

// ConsoleReporter writes scan results to a terminal. It is the default
// reporter for interactive runs; headless deployments rely on the
// structured logs and metrics instead.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleReporter writes to stdout.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

// NewConsoleReporterTo writes to the given writer, for tests.
func NewConsoleReporterTo(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// ReportCycle prints the one-line cycle summary.
func (r *ConsoleReporter) ReportCycle(stats app.CycleStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.Skipped {
		fmt.Fprintf(r.out, "[%s] cycle skipped: %s (gas %.1f gwei)\n",
			stats.Timestamp.Format("15:04:05"), stats.SkipReason, stats.GasPriceGwei)
		return
	}

	fmt.Fprintf(r.out, "[%s] tier=%s gas=%.1fgwei hop=$%s pools=%d (cache %d, live %d, failed %d) opportunities=%d in %s\n",
		stats.Timestamp.Format("15:04:05"),
		stats.TierName,
		stats.GasPriceGwei,
		stats.HopCostUSD.StringFixed(4),
		stats.Pools,
		stats.CacheHits,
		stats.LiveReads,
		stats.FetchFailures,
		stats.Opportunities,
		stats.Duration.Round(time.Millisecond),
	)
}

// ReportOpportunity prints one routed opportunity.
func (r *ConsoleReporter) ReportOpportunity(opp *domain.Opportunity, decision domain.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verdict := string(decision.Path)
	if decision.Path == domain.PathSkip {
		verdict = "skip: " + decision.Reason
	} else if decision.Provider != domain.ProviderNone {
		verdict = fmt.Sprintf("%s via %s", decision.Path, decision.Provider)
	}

	fmt.Fprintf(r.out, "  %-14s buy %-12s sell %-12s size $%-8s spread %sbps net $%-7s -> %s\n",
		opp.Pair,
		opp.BuyPool.Venue,
		opp.SellPool.Venue,
		opp.TradeSizeUSD.StringFixed(0),
		opp.SpreadBps().StringFixed(0),
		opp.NetUSD.StringFixed(2),
		verdict,
	)
}

// ReportExecution prints one settlement outcome.
func (r *ConsoleReporter) ReportExecution(trade domain.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if trade.Success {
		fmt.Fprintf(r.out, "  EXECUTED %s buy=%s sell=%s size=$%s realized=$%s tx=%s gas=%d\n",
			trade.Pair, trade.BuyVenue, trade.SellVenue,
			trade.TradeSizeUSD.StringFixed(0),
			trade.RealizedUSD.StringFixed(2),
			trade.TxHash, trade.GasUsed)
		return
	}

	fmt.Fprintf(r.out, "  FAILED %s buy=%s sell=%s size=$%s reason=%s tx=%s\n",
		trade.Pair, trade.BuyVenue, trade.SellVenue,
		trade.TradeSizeUSD.StringFixed(0),
		trade.FailureReason, trade.TxHash)
}
