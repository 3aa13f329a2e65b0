// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"

	"github.com/fd1az/dex-arb-engine/business/blockchain/domain"
)

// GasOracle defines the interface for gas price information.
type GasOracle interface {
	// GetGasPrice retrieves the current gas price.
	GetGasPrice(ctx context.Context) (*domain.GasPrice, error)

	// EstimateGas estimates the gas needed for a transaction.
	EstimateGas(ctx context.Context, data []byte, to string) (uint64, error)
}

// EndpointMonitor exposes endpoint pool health for status reporting.
type EndpointMonitor interface {
	// Health returns per-endpoint health snapshots in priority order.
	Health() []domain.EndpointHealth

	// Healthy reports whether at least one endpoint is available.
	Healthy() bool
}
