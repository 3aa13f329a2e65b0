package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	CodeInternalError: "Internal error",
	CodeUnknownError:  "An unknown error occurred",

	CodeRPCConnectionFailed:    "Failed to connect to RPC endpoint",
	CodeRPCCallFailed:          "RPC call failed",
	CodeAllEndpointsExhausted:  "All RPC endpoints exhausted for this call",
	CodeNoHealthyEndpoints:     "No healthy RPC endpoints available",
	CodeGasEstimationFailed:    "Gas estimation failed",
	CodeGasPriceFetchFailed:    "Failed to fetch gas price",
	CodeContractCallFailed:     "Smart contract call failed",
	CodeWebSocketConnectionErr: "WebSocket connection error",

	CodePoolRegistryInvalid:    "Pool registry is malformed",
	CodePoolNotFound:           "Pool not found",
	CodePoolReadFailed:         "Failed to read pool state",
	CodeZeroLiquidity:          "Pool has zero liquidity",
	CodePriceCalculationFailed: "Price calculation failed",
	CodeQuoteFailed:            "Failed to get swap quote",
	CodeOraclePriceUnavailable: "Token USD price unavailable",
	CodeCachePersistFailed:     "Failed to persist cache to disk",

	CodeSafetyCheckFailed:     "Safety check rejected execution",
	CodeKillSwitchActive:      "Kill switch is active",
	CodeVerificationFailed:    "Fresh quote verification failed",
	CodeProfitDrifted:         "Profit drifted beyond tolerance since detection",
	CodeUnsupportedHopCount:   "Hop count not supported by settlement contract",
	CodeExecutionFailed:       "Trade execution failed",
	CodeTransactionReverted:   "Transaction reverted on-chain",
	CodeReceiptTimeout:        "Timed out waiting for transaction receipt",
	CodeInsufficientLiquidity: "Insufficient liquidity for trade size",
	CodeInvalidTradeSize:      "Invalid trade size",

	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
