package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/asset"
)

const validRegistry = `{
  "quickswap": {
    "WPOL/USDC": {
      "pool":   "0x6e7a5FAFcec6BB1e78bAE2A1F0B612012BF14827",
      "token0": "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
      "token1": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
      "type":   "v2",
      "fee":    30
    }
  },
  "uniswap_v3": {
    "WETH/USDC": {
      "pool":   "0x45dDa9cb7c25131DF268515131f647d726f50608",
      "token0": "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
      "token1": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
      "type":   "v3",
      "fee":    5
    }
  }
}`

func TestParse_Valid(t *testing.T) {
	pools, err := Parse([]byte(validRegistry), 137, asset.DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, pools, 2)

	// Sorted by venue then pair label.
	assert.Equal(t, "quickswap", pools[0].Venue)
	assert.Equal(t, domain.ConstantProduct, pools[0].Type)
	assert.Equal(t, uint32(30), pools[0].FeeBps)
	assert.Equal(t, uint8(18), pools[0].Decimals0) // WPOL
	assert.Equal(t, uint8(6), pools[0].Decimals1)  // USDC

	assert.Equal(t, "uniswap_v3", pools[1].Venue)
	assert.Equal(t, domain.ConcentratedLiquidity, pools[1].Type)
	assert.Equal(t, uint8(18), pools[1].Decimals0) // WETH
}

func TestParse_UnknownTokenDefaultsTo18Decimals(t *testing.T) {
	raw := `{
	  "sushiswap": {
	    "FOO/BAR": {
	      "pool":   "0x1111111111111111111111111111111111111111",
	      "token0": "0x2222222222222222222222222222222222222222",
	      "token1": "0x3333333333333333333333333333333333333333",
	      "type":   "v2",
	      "fee":    30
	    }
	  }
	}`

	pools, err := Parse([]byte(raw), 137, asset.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, uint8(18), pools[0].Decimals0)
	assert.Equal(t, uint8(18), pools[0].Decimals1)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{broken`},
		{"empty registry", `{}`},
		{
			"bad pool address",
			`{"v": {"A/B": {"pool": "nope", "token0": "0x2222222222222222222222222222222222222222", "token1": "0x3333333333333333333333333333333333333333", "type": "v2", "fee": 30}}}`,
		},
		{
			"unknown pool type",
			`{"v": {"A/B": {"pool": "0x1111111111111111111111111111111111111111", "token0": "0x2222222222222222222222222222222222222222", "token1": "0x3333333333333333333333333333333333333333", "type": "v4", "fee": 30}}}`,
		},
		{
			"v2 without fee",
			`{"v": {"A/B": {"pool": "0x1111111111111111111111111111111111111111", "token0": "0x2222222222222222222222222222222222222222", "token1": "0x3333333333333333333333333333333333333333", "type": "v2"}}}`,
		},
		{
			"identical tokens",
			`{"v": {"A/A": {"pool": "0x1111111111111111111111111111111111111111", "token0": "0x2222222222222222222222222222222222222222", "token1": "0x2222222222222222222222222222222222222222", "type": "v2", "fee": 30}}}`,
		},
		{
			"duplicate pool",
			`{"v": {
			   "A/B": {"pool": "0x1111111111111111111111111111111111111111", "token0": "0x2222222222222222222222222222222222222222", "token1": "0x3333333333333333333333333333333333333333", "type": "v2", "fee": 30},
			   "C/D": {"pool": "0x1111111111111111111111111111111111111111", "token0": "0x4444444444444444444444444444444444444444", "token1": "0x5555555555555555555555555555555555555555", "type": "v2", "fee": 30}
			 }}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), 137, asset.DefaultRegistry())
			require.Error(t, err)
			assert.True(t, apperror.IsCode(err, apperror.CodePoolRegistryInvalid))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/registry.json", 137, asset.DefaultRegistry())
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodePoolRegistryInvalid))
}
