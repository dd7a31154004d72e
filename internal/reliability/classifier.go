package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes. Nothing in
// this service retries on its own; the flag is surfaced to the operator so
// they can tell transient failures from configuration mistakes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeError classifies upstream realtime error codes the same
// way, for error frames coming over a websocket rather than plain HTTP.
func IsRetryableRealtimeError(code string) bool {
	switch code {
	case "rate_limit_exceeded", "server_error", "session_expired":
		return true
	default:
		return false
	}
}
