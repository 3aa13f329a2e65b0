// Package registry loads the external pool registry file: the static
// list of pools the engine watches, grouped by venue.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/asset"
)

// poolEntry mirrors one pool record in the registry file.
type poolEntry struct {
	Pool   string `json:"pool"`
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
	Type   string `json:"type"`
	Fee    uint32 `json:"fee"`
}

// registryFile is venue -> pair label -> pool entry.
type registryFile map[string]map[string]poolEntry

// defaultDecimals is assumed for tokens absent from the asset registry.
// ERC-20 overwhelmingly uses 18; the known 6- and 8-decimal tokens are
// all registered explicitly.
const defaultDecimals = 18

// Load reads and validates the registry file at path. Any malformed
// entry fails the whole load: a silently dropped pool would hide an
// entire venue from the scanner.
func Load(path string, chainID uint64, assets *asset.Registry) ([]domain.PoolInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.New(apperror.CodePoolRegistryInvalid,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("read registry %s", path)))
	}
	return Parse(data, chainID, assets)
}

// Parse validates raw registry JSON and returns the pool list sorted by
// venue then pair label, so iteration order is stable across runs.
func Parse(data []byte, chainID uint64, assets *asset.Registry) ([]domain.PoolInfo, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apperror.New(apperror.CodePoolRegistryInvalid,
			apperror.WithCause(err),
			apperror.WithContext("registry is not valid JSON"))
	}
	if len(file) == 0 {
		return nil, apperror.New(apperror.CodePoolRegistryInvalid,
			apperror.WithContext("registry has no venues"))
	}

	var pools []domain.PoolInfo
	seen := make(map[string]string) // pool key -> first "{venue}/{pair}" using it

	for venue, pairs := range file {
		if strings.TrimSpace(venue) == "" {
			return nil, apperror.New(apperror.CodePoolRegistryInvalid,
				apperror.WithContext("empty venue name"))
		}

		for label, e := range pairs {
			info, err := buildPool(venue, label, e, chainID, assets)
			if err != nil {
				return nil, err
			}

			if prev, dup := seen[info.Key()]; dup {
				return nil, apperror.New(apperror.CodePoolRegistryInvalid,
					apperror.WithContext(fmt.Sprintf(
						"pool %s listed twice: %s/%s and %s", info.Address.Hex(), venue, label, prev)))
			}
			seen[info.Key()] = venue + "/" + label

			pools = append(pools, info)
		}
	}

	sort.Slice(pools, func(i, j int) bool {
		if pools[i].Venue != pools[j].Venue {
			return pools[i].Venue < pools[j].Venue
		}
		return pools[i].PairLabel < pools[j].PairLabel
	})

	return pools, nil
}

func buildPool(venue, label string, e poolEntry, chainID uint64, assets *asset.Registry) (domain.PoolInfo, error) {
	fail := func(msg string) (domain.PoolInfo, error) {
		return domain.PoolInfo{}, apperror.New(apperror.CodePoolRegistryInvalid,
			apperror.WithContext(fmt.Sprintf("%s/%s: %s", venue, label, msg)))
	}

	if !common.IsHexAddress(e.Pool) {
		return fail(fmt.Sprintf("bad pool address %q", e.Pool))
	}
	if !common.IsHexAddress(e.Token0) {
		return fail(fmt.Sprintf("bad token0 address %q", e.Token0))
	}
	if !common.IsHexAddress(e.Token1) {
		return fail(fmt.Sprintf("bad token1 address %q", e.Token1))
	}

	poolType, err := domain.ParsePoolType(e.Type)
	if err != nil {
		return fail(err.Error())
	}

	if poolType == domain.ConstantProduct && e.Fee == 0 {
		return fail("constant-product pool needs an explicit fee")
	}
	if e.Fee >= domain.Scale {
		return fail(fmt.Sprintf("fee %d exceeds 100%%", e.Fee))
	}

	token0 := common.HexToAddress(e.Token0)
	token1 := common.HexToAddress(e.Token1)
	if token0 == token1 {
		return fail("token0 and token1 are the same address")
	}

	return domain.PoolInfo{
		Venue:     strings.ToLower(venue),
		PairLabel: label,
		Address:   common.HexToAddress(e.Pool),
		Token0:    token0,
		Token1:    token1,
		Type:      poolType,
		FeeBps:    e.Fee,
		Decimals0: tokenDecimals(chainID, token0, assets),
		Decimals1: tokenDecimals(chainID, token1, assets),
	}, nil
}

func tokenDecimals(chainID uint64, addr common.Address, assets *asset.Registry) uint8 {
	if assets != nil {
		if a, ok := assets.GetToken(chainID, addr); ok {
			return a.Decimals()
		}
	}
	return defaultDecimals
}
