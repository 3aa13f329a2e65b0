package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDPolygon  = 137
	ChainIDArbitrum = 42161
	ChainIDOptimism = 10
	ChainIDBase     = 8453
)

// Well-known token addresses on Polygon PoS.
var (
	AddrWPOL  = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	AddrUSDT  = common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	AddrUSDC  = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	AddrUSDCe = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	AddrWETH  = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
	AddrDAI   = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")
	AddrWBTC  = common.HexToAddress("0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6")
	AddrLINK  = common.HexToAddress("0x53E0bca35eC356BD5ddDFebbD1Fc0fD03FaBad39")
	AddrAAVE  = common.HexToAddress("0xD6DF932A45C0f255f85145f286eA0b292B21C90B")
)

// Well-known AssetIDs on Polygon PoS.
var (
	IDPolygonPOL   = NewNativeAssetID(ChainIDPolygon)
	IDPolygonWPOL  = NewTokenAssetID(ChainIDPolygon, AddrWPOL)
	IDPolygonUSDT  = NewTokenAssetID(ChainIDPolygon, AddrUSDT)
	IDPolygonUSDC  = NewTokenAssetID(ChainIDPolygon, AddrUSDC)
	IDPolygonUSDCe = NewTokenAssetID(ChainIDPolygon, AddrUSDCe)
	IDPolygonWETH  = NewTokenAssetID(ChainIDPolygon, AddrWETH)
	IDPolygonDAI   = NewTokenAssetID(ChainIDPolygon, AddrDAI)
	IDPolygonWBTC  = NewTokenAssetID(ChainIDPolygon, AddrWBTC)
	IDPolygonLINK  = NewTokenAssetID(ChainIDPolygon, AddrLINK)
	IDPolygonAAVE  = NewTokenAssetID(ChainIDPolygon, AddrAAVE)
)

// Well-known Assets (pre-created instances)
var (
	POL   = NewAssetWithName(IDPolygonPOL, "POL", "Polygon Ecosystem Token", 18)
	WPOL  = NewAssetWithName(IDPolygonWPOL, "WPOL", "Wrapped POL", 18)
	USDT  = NewAssetWithName(IDPolygonUSDT, "USDT", "Tether USD", 6)
	USDC  = NewAssetWithName(IDPolygonUSDC, "USDC", "USD Coin", 6)
	USDCe = NewAssetWithName(IDPolygonUSDCe, "USDC.e", "Bridged USD Coin", 6)
	WETH  = NewAssetWithName(IDPolygonWETH, "WETH", "Wrapped Ether", 18)
	DAI   = NewAssetWithName(IDPolygonDAI, "DAI", "Dai Stablecoin", 18)
	WBTC  = NewAssetWithName(IDPolygonWBTC, "WBTC", "Wrapped Bitcoin", 8)
	LINK  = NewAssetWithName(IDPolygonLINK, "LINK", "ChainLink Token", 18)
	AAVE  = NewAssetWithName(IDPolygonAAVE, "AAVE", "Aave Token", 18)
)

// Stablecoins used when sizing trades and reporting profit in USD terms.
var Stablecoins = []*Asset{USDT, USDC, USDCe, DAI}

// DefaultRegistry returns a registry pre-populated with the Polygon assets
// the engine trades.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(POL)
	r.Register(WPOL)
	r.Register(USDT)
	r.Register(USDC)
	r.Register(USDCe)
	r.Register(WETH)
	r.Register(DAI)
	r.Register(WBTC)
	r.Register(LINK)
	r.Register(AAVE)

	return r
}

// MustNewToken creates a new ERC20 token asset with the given parameters.
// This is a convenience function for registering custom tokens.
func MustNewToken(chainID uint64, address common.Address, symbol, name string, decimals uint8) *Asset {
	id := NewTokenAssetID(chainID, address)
	return NewAssetWithName(id, symbol, name, decimals)
}

// MustNewNative creates a new native coin asset.
func MustNewNative(chainID uint64, symbol, name string, decimals uint8) *Asset {
	id := NewNativeAssetID(chainID)
	return NewAssetWithName(id, symbol, name, decimals)
}
