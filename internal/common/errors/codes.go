package errors

// Structured error codes. The prefix names the subsystem that issued the
// error, the number is stable across releases.
const (
	CodeConfigMissingKey   = "CFG-001"
	CodeConfigInvalidValue = "CFG-002"
	CodeConfigEnvMissing   = "CFG-003"
	CodeUnknownServer      = "CFG-004"

	CodeTokenAcquisitionFailed = "TOK-001"
	CodeTokenValidationFailed  = "TOK-004"
	CodeTokenInvalidResponse   = "TOK-005"
	CodeTokenRetriesExhausted  = "TOK-006"

	CodeNetworkTimeout    = "NET-001"
	CodeNetworkConnection = "NET-002"
	CodeNetworkTLS        = "NET-003"

	CodeAuthInvalidCredentials  = "AUTH-001"
	CodeAuthInsufficientScope   = "AUTH-002"
	CodeAuthProviderUnavailable = "AUTH-003"

	CodeCircuitOpen   = "CB-001"
	CodeRateLimited   = "RL-001"
	CodeInternalState = "INT-001"
)

var codeDescriptions = map[string]string{
	CodeConfigMissingKey:        "Required configuration key is missing",
	CodeConfigInvalidValue:      "Configuration value is invalid",
	CodeConfigEnvMissing:        "Referenced environment variable is not set",
	CodeUnknownServer:           "Server is not configured",
	CodeTokenAcquisitionFailed:  "Failed to acquire OAuth2 token",
	CodeTokenValidationFailed:   "Token validation failed",
	CodeTokenInvalidResponse:    "Invalid response from token endpoint",
	CodeTokenRetriesExhausted:   "Token acquisition failed after all retry attempts",
	CodeNetworkTimeout:          "Network timeout connecting to endpoint",
	CodeNetworkConnection:       "Cannot establish connection to endpoint",
	CodeNetworkTLS:              "SSL/TLS certificate verification failed",
	CodeAuthInvalidCredentials:  "Invalid client credentials",
	CodeAuthInsufficientScope:   "Insufficient scope for requested operation",
	CodeAuthProviderUnavailable: "Authentication provider is unavailable",
	CodeCircuitOpen:             "Circuit breaker is open for this server",
	CodeRateLimited:             "Token acquisition rate limit exceeded",
	CodeInternalState:           "Internal state inconsistency detected",
}

// Describe returns the human readable description of a code
func Describe(code string) string {
	if d, ok := codeDescriptions[code]; ok {
		return d
	}
	return "Unknown error"
}
