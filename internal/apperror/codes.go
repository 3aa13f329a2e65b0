package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// RPC access layer error codes
const (
	CodeRPCConnectionFailed    Code = "RPC_CONNECTION_FAILED"
	CodeRPCCallFailed          Code = "RPC_CALL_FAILED"
	CodeAllEndpointsExhausted  Code = "ALL_ENDPOINTS_EXHAUSTED"
	CodeNoHealthyEndpoints     Code = "NO_HEALTHY_ENDPOINTS"
	CodeGasEstimationFailed    Code = "GAS_ESTIMATION_FAILED"
	CodeGasPriceFetchFailed    Code = "GAS_PRICE_FETCH_FAILED"
	CodeContractCallFailed     Code = "CONTRACT_CALL_FAILED"
	CodeWebSocketConnectionErr Code = "WEBSOCKET_CONNECTION_ERROR"
)

// Pricing error codes
const (
	CodePoolRegistryInvalid    Code = "POOL_REGISTRY_INVALID"
	CodePoolNotFound           Code = "POOL_NOT_FOUND"
	CodePoolReadFailed         Code = "POOL_READ_FAILED"
	CodeZeroLiquidity          Code = "ZERO_LIQUIDITY"
	CodePriceCalculationFailed Code = "PRICE_CALCULATION_FAILED"
	CodeQuoteFailed            Code = "QUOTE_FAILED"
	CodeOraclePriceUnavailable Code = "ORACLE_PRICE_UNAVAILABLE"
	CodeCachePersistFailed     Code = "CACHE_PERSIST_FAILED"
)

// Execution error codes
const (
	CodeSafetyCheckFailed     Code = "SAFETY_CHECK_FAILED"
	CodeKillSwitchActive      Code = "KILL_SWITCH_ACTIVE"
	CodeVerificationFailed    Code = "VERIFICATION_FAILED"
	CodeProfitDrifted         Code = "PROFIT_DRIFTED"
	CodeUnsupportedHopCount   Code = "UNSUPPORTED_HOP_COUNT"
	CodeExecutionFailed       Code = "EXECUTION_FAILED"
	CodeTransactionReverted   Code = "TRANSACTION_REVERTED"
	CodeReceiptTimeout        Code = "RECEIPT_TIMEOUT"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeInvalidTradeSize      Code = "INVALID_TRADE_SIZE"
)

// Circuit breaker error codes
const (
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
