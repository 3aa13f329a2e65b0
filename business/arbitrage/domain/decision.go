package domain

import (
	"github.com/shopspring/decimal"
)

// Path is the settlement path chosen for an opportunity.
type Path string

const (
	PathFlashLoan  Path = "flash_loan"
	PathDirectSwap Path = "direct_swap"
	PathSkip       Path = "skip"
)

// FlashProvider identifies a flash-loan provider.
type FlashProvider string

const (
	// ProviderBalancer lends at zero fee and is always tried first.
	ProviderBalancer FlashProvider = "balancer"
	// ProviderAave lends at 9 bps.
	ProviderAave FlashProvider = "aave"
	// ProviderNone marks a wallet-funded direct swap.
	ProviderNone FlashProvider = ""
)

// Decision is the router's verdict on one opportunity. Produced once
// per opportunity per scan and consumed immediately, never stored.
type Decision struct {
	Path            Path
	Provider        FlashProvider
	Reason          string
	EstimatedGasUSD decimal.Decimal
	EstimatedNetUSD decimal.Decimal
	GasLimit        uint64
}

// Skip builds a skip decision with the given reason.
func Skip(reason string) Decision {
	return Decision{Path: PathSkip, Reason: reason}
}

// Executable reports whether the decision selects a settlement path.
func (d Decision) Executable() bool {
	return d.Path != PathSkip
}
