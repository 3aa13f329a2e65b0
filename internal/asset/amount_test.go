package asset_test

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/internal/asset"
)

func TestAmount_Basic(t *testing.T) {
	// 1 WETH = 1e18 wei
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))

	if oneWETH.IsZero() {
		t.Error("expected non-zero amount")
	}

	d := oneWETH.ToDecimal()
	if !d.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", d.String())
	}

	if oneWETH.String() != "1 WETH" {
		t.Errorf("expected '1 WETH', got '%s'", oneWETH.String())
	}
}

func TestAmount_Add(t *testing.T) {
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))
	twoWETH := asset.NewAmount(asset.WETH, big.NewInt(2e18))

	sum, err := oneWETH.Add(twoWETH)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(3)
	if !sum.ToDecimal().Equal(expected) {
		t.Errorf("expected 3, got %s", sum.ToDecimal().String())
	}
}

func TestAmount_CannotAddDifferentAssets(t *testing.T) {
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))
	oneUSDC := asset.NewAmount(asset.USDC, big.NewInt(1e6))

	_, err := oneWETH.Add(oneUSDC)
	if err == nil {
		t.Error("expected error when adding different assets")
	}
}

func TestAmount_Sub(t *testing.T) {
	threeWETH := asset.NewAmount(asset.WETH, big.NewInt(3e18))
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))

	diff, err := threeWETH.Sub(oneWETH)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(2)
	if !diff.ToDecimal().Equal(expected) {
		t.Errorf("expected 2, got %s", diff.ToDecimal().String())
	}
}

func TestAmount_SubCannotGoNegative(t *testing.T) {
	oneWETH := asset.NewAmount(asset.WETH, big.NewInt(1e18))
	twoWETH := asset.NewAmount(asset.WETH, big.NewInt(2e18))

	_, err := oneWETH.Sub(twoWETH)
	if err == nil {
		t.Error("expected error when subtraction would go negative")
	}
}

func TestAmount_Cmp(t *testing.T) {
	small := asset.NewAmount(asset.USDC, big.NewInt(1_000_000)) // 1 USDC
	large := asset.NewAmount(asset.USDC, big.NewInt(5_000_000)) // 5 USDC

	cmp, err := large.Cmp(small)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp != 1 {
		t.Error("expected 5 USDC > 1 USDC")
	}

	if cmp, _ := small.Cmp(large); cmp != -1 {
		t.Error("expected 1 USDC < 5 USDC")
	}
}

func TestAmount_RawIsDefensiveCopy(t *testing.T) {
	raw := big.NewInt(1e18)
	amt := asset.NewAmount(asset.WETH, raw)

	raw.SetInt64(0)
	amt.Raw().SetInt64(0)

	if amt.Raw().Cmp(big.NewInt(1e18)) != 0 {
		t.Errorf("expected 1e18 preserved, got %s", amt.Raw())
	}
}

func TestParseString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "whole units", input: "2", want: 2_000_000},
		{name: "fractional", input: "1.5", want: 1_500_000},
		{name: "six decimals exact", input: "0.000001", want: 1},
		{name: "too many decimals", input: "0.0000001", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := asset.ParseString(asset.USDC, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Raw().Int64() != tt.want {
				t.Errorf("expected raw %d, got %s", tt.want, got.Raw())
			}
		})
	}
}

func TestParseDecimal_RejectsNegative(t *testing.T) {
	_, err := asset.ParseDecimal(asset.USDC, decimal.NewFromInt(-1))
	if err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestRegistry_GetToken(t *testing.T) {
	r := asset.DefaultRegistry()

	got, ok := r.GetToken(asset.ChainIDPolygon, asset.AddrUSDC)
	if !ok {
		t.Fatal("expected USDC in default registry")
	}
	if got.Symbol() != "USDC" {
		t.Errorf("expected USDC, got %s", got.Symbol())
	}

	if _, ok := r.GetBySymbolAndChain("WETH", asset.ChainIDPolygon); !ok {
		t.Error("expected WETH on Polygon")
	}
}

func TestRegistry_GetNative(t *testing.T) {
	r := asset.DefaultRegistry()

	native, ok := r.GetNative(asset.ChainIDPolygon)
	if !ok {
		t.Fatal("expected native asset for Polygon")
	}
	if native.Symbol() != "POL" {
		t.Errorf("expected POL, got %s", native.Symbol())
	}
}
