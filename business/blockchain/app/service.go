// Package app contains application services and port definitions for the blockchain context.
package app

import (
	"context"

	"github.com/fd1az/dex-arb-engine/business/blockchain/domain"
)

// BlockchainService coordinates chain-level reads used by the other
// contexts: gas pricing and endpoint health.
type BlockchainService struct {
	gasOracle GasOracle
	monitor   EndpointMonitor
}

// NewBlockchainService creates a new BlockchainService.
func NewBlockchainService(gasOracle GasOracle, monitor EndpointMonitor) *BlockchainService {
	return &BlockchainService{
		gasOracle: gasOracle,
		monitor:   monitor,
	}
}

// GetGasPrice retrieves the current gas price.
func (s *BlockchainService) GetGasPrice(ctx context.Context) (*domain.GasPrice, error) {
	return s.gasOracle.GetGasPrice(ctx)
}

// EstimateGas estimates gas for a call against to.
func (s *BlockchainService) EstimateGas(ctx context.Context, data []byte, to string) (uint64, error) {
	return s.gasOracle.EstimateGas(ctx, data, to)
}

// EndpointHealth returns per-endpoint health snapshots.
func (s *BlockchainService) EndpointHealth() []domain.EndpointHealth {
	return s.monitor.Health()
}

// Healthy reports whether any endpoint is available.
func (s *BlockchainService) Healthy() bool {
	return s.monitor.Healthy()
}
