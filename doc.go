// Package titipan is the resilient client core for the merchant funding
// platform API: every outbound call and every secure document transfer
// goes through it. It layers composable reliability primitives around
// net/http:
//
//   - Retries with exponential backoff + jitter, gated on idempotency
//   - Circuit breaker per endpoint group (closed / open / half-open)
//   - Request de-duplication (merges concurrent identical reads)
//   - Local rate limiting (token bucket per endpoint group)
//   - Security header attachment (bearer, correlation id, CSRF)
//   - Canonical response / error envelopes with field-level details
//   - Prometheus metrics, OpenTelemetry spans, structured debug logging
//
// Design goals:
//   - Exactly one terminal outcome per logical request
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Collaborators (tokens, CSRF, crypto, keys) injected as capabilities
//
// Typical usage:
//
//	client := titipan.New(
//	    titipan.WithBaseURL("https://api.example.com"),
//	    titipan.WithMaxAttempts(3),
//	    titipan.WithCircuitBreaker(titipan.BreakerConfig{}),
//	    titipan.WithMetrics(),
//	)
//	var apps []Application
//	resp, err := client.Get(ctx, "/applications", url.Values{"page": {"1"}}, &apps)
//
// Secure document transfer (encryption, checksums, signed preview URLs)
// lives in the vault subpackage; encrypted-at-rest session token storage
// in the session subpackage. Both compose over this client.
package titipan
