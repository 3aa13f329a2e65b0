package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type detectorMetrics struct {
	pairsScanned  metric.Int64Counter
	opportunities metric.Int64Counter
	rejections    metric.Int64Counter
}

// Detector finds cross-venue price divergences in one batch of pool
// states and prices them for each candidate trade size.
type Detector struct {
	tvl    TvlProvider
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *detectorMetrics
}

// NewDetector creates a detector using the given TVL source.
func NewDetector(tvl TvlProvider, log logger.LoggerInterface) (*Detector, error) {
	d := &Detector{
		tvl:    tvl,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	if err := d.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return d, nil
}

func (d *Detector) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &detectorMetrics{}

	d.metrics.pairsScanned, err = meter.Int64Counter(
		"detector_pairs_scanned_total",
		metric.WithDescription("Token pairs evaluated for arbitrage"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return err
	}

	d.metrics.opportunities, err = meter.Int64Counter(
		"detector_opportunities_total",
		metric.WithDescription("Opportunities that cleared every filter"),
		metric.WithUnit("{opportunity}"),
	)
	if err != nil {
		return err
	}

	d.metrics.rejections, err = meter.Int64Counter(
		"detector_rejections_total",
		metric.WithDescription("Candidates rejected, by reason"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// FindOpportunities evaluates every pair with at least two venues at
// every candidate trade size of the tier. Multiple profitable sizes for
// the same pair stay distinct opportunities: price impact is not linear,
// so a larger size is not strictly better. The result is sorted by net
// profit descending, stable for equal profit.
func (d *Detector) FindOpportunities(
	ctx context.Context,
	statesByPair map[string][]*pricingDomain.PoolState,
	tier domain.GasTier,
) []*domain.Opportunity {
	ctx, span := d.tracer.Start(ctx, "arbitrage.find_opportunities",
		trace.WithAttributes(
			attribute.Int("pairs", len(statesByPair)),
			attribute.String("tier", tier.Name),
		),
	)
	defer span.End()

	// Deterministic pair order keeps the stable sort reproducible.
	pairs := make([]string, 0, len(statesByPair))
	for pair := range statesByPair {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	var found []*domain.Opportunity
	for _, pair := range pairs {
		pools := statesByPair[pair]
		if len(pools) < 2 {
			continue
		}
		d.metrics.pairsScanned.Add(ctx, 1)
		found = append(found, d.scanPair(ctx, pools, tier)...)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].NetUSD.GreaterThan(found[j].NetUSD)
	})

	d.metrics.opportunities.Add(ctx, int64(len(found)))
	span.SetAttributes(attribute.Int("opportunities", len(found)))
	return found
}

type pricedPool struct {
	state *pricingDomain.PoolState
	price decimal.Decimal
}

func (d *Detector) scanPair(ctx context.Context, pools []*pricingDomain.PoolState, tier domain.GasTier) []*domain.Opportunity {
	priced := make([]pricedPool, 0, len(pools))
	for _, st := range pools {
		price, err := normalizedPrice(st)
		if err != nil {
			d.reject(ctx, "unpriceable")
			d.logger.Debug(ctx, "pool skipped, no price", "pool", st.Info.Key(), "error", err)
			continue
		}
		priced = append(priced, pricedPool{state: st, price: price})
	}
	if len(priced) < 2 {
		return nil
	}

	buy, sell := priced[0], priced[0]
	for _, p := range priced[1:] {
		if p.price.LessThan(buy.price) {
			buy = p
		}
		if p.price.GreaterThan(sell.price) {
			sell = p
		}
	}
	if !sell.price.GreaterThan(buy.price) {
		d.reject(ctx, "no_spread")
		return nil
	}

	if !d.passesTvl(ctx, buy.state, tier) || !d.passesTvl(ctx, sell.state, tier) {
		d.reject(ctx, "tvl_too_low")
		return nil
	}

	var out []*domain.Opportunity
	for _, size := range tier.TradeSizesUSD {
		opp := d.price(ctx, buy, sell, size, tier)
		if opp != nil {
			out = append(out, opp)
		}
	}
	return out
}

// price computes the profit model for one candidate size: gross from
// the relative spread, minus both venues' swap fees, minus two hops of
// gas. The flash-loan provider fee is the router's concern; the
// detector prices the best case (the zero-fee provider).
func (d *Detector) price(ctx context.Context, buy, sell pricedPool, sizeUSD decimal.Decimal, tier domain.GasTier) *domain.Opportunity {
	gross := sell.price.Sub(buy.price).Div(buy.price).Mul(sizeUSD)

	feeBps := decimal.NewFromInt(int64(buy.state.Info.FeeBps) + int64(sell.state.Info.FeeBps))
	fees := sizeUSD.Mul(feeBps).Div(decimal.NewFromInt(pricingDomain.Scale))

	gas := tier.TwoHopGasUSD()
	net := gross.Sub(fees).Sub(gas)
	if net.LessThan(tier.MinProfitUSD) {
		d.reject(ctx, "below_min_profit")
		d.logger.Debug(ctx, "candidate below profit floor",
			"pair", buy.state.Info.PairKey(),
			"size_usd", sizeUSD.String(),
			"net_usd", net.String(),
			"floor_usd", tier.MinProfitUSD.String(),
		)
		return nil
	}

	opp, err := domain.NewOpportunity(
		buy.state.Info, sell.state.Info,
		buy.price, sell.price,
		sizeUSD, gross, fees, gas,
	)
	if err != nil {
		d.reject(ctx, "invariant")
		d.logger.Debug(ctx, "candidate failed invariant", "error", err)
		return nil
	}
	return opp
}

// passesTvl applies the liquidity-depth filter. Unknown TVL (zero, the
// case for concentrated pools) passes: those pools are filtered by
// live liquidity instead, and the fresh-quote gate re-checks depth.
func (d *Detector) passesTvl(ctx context.Context, state *pricingDomain.PoolState, tier domain.GasTier) bool {
	tvl, err := d.tvl.PoolTVL(ctx, state)
	if err != nil {
		d.logger.Debug(ctx, "tvl lookup failed, passing pool through",
			"pool", state.Info.Key(), "error", err)
		return true
	}
	if tvl.IsZero() {
		return true
	}
	return tvl.GreaterThanOrEqual(tier.MinPoolTVLUSD)
}

func (d *Detector) reject(ctx context.Context, reason string) {
	d.metrics.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// normalizedPrice orients every venue's price the same way: the price
// of the pair's lexically-lower token in units of the other. Venues
// can list token0/token1 in either order, so raw Price() values are
// not comparable across pools.
func normalizedPrice(state *pricingDomain.PoolState) (decimal.Decimal, error) {
	price, err := state.Price()
	if err != nil {
		return decimal.Zero, err
	}

	if aligned(state.Info) {
		return price, nil
	}
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("zero price on %s", state.Info.Key())
	}
	return decimal.NewFromInt(1).DivRound(price, 18), nil
}

func aligned(info pricingDomain.PoolInfo) bool {
	return strings.ToLower(info.Token0.Hex()) <= strings.ToLower(info.Token1.Hex())
}
