package titipan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is the request orchestrator: it layers circuit breaking,
// deduplication, local rate limiting, retries with backoff, security
// headers, and telemetry around every call to the platform API, and
// transforms responses and errors into their canonical shapes. It is
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration

	maxAttempts int
	base        time.Duration
	ceiling     time.Duration
	multiplier  float64
	jitter      float64
	retryPolicy RetryPolicy

	breakers  *breakerRegistry
	groupFunc GroupFunc

	dedup          *DedupTracker
	dedupKeyFunc   DedupKeyFunc
	dedupCondition DedupCondition

	limiters *LimiterRegistry

	middleware []Middleware

	tokens TokenSource
	csrf   CSRFTokenSource

	metrics *MetricsCollector
	tracer  trace.Tracer
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{},
		timeout:        30 * time.Second,
		maxAttempts:    3,
		base:           500 * time.Millisecond,
		ceiling:        10 * time.Second,
		multiplier:     2.0,
		jitter:         0.1,
		breakers:       newBreakerRegistry(BreakerConfig{}),
		groupFunc:      DefaultGroupFunc,
		dedup:          NewDedupTracker(),
		dedupKeyFunc:   DefaultDedupKeyFunc,
		dedupCondition: DefaultDedupCondition,
		middleware:     []Middleware{},
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicy(client.maxAttempts, client.base, client.ceiling, client.multiplier, client.jitter)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs a GET for path with optional query, decoding the
// canonical payload into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Delete performs a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string, out any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}

// Do executes one logical request, applying all reliability layers, and
// decodes the canonical payload into out. out may be nil, a *[]byte for
// raw payloads, or any JSON target pointer. Exactly one terminal
// outcome is produced per call: a *Response or an *APIError.
func (c *Client) Do(ctx context.Context, req *Request, out any) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	start := time.Now()

	if err := req.validate(); err != nil {
		return nil, &APIError{Kind: KindValidation, Message: err.Error(), Timestamp: start}
	}
	body, err := req.marshalBody()
	if err != nil {
		return nil, &APIError{Kind: KindValidation, Message: "marshaling request body", Cause: err, Timestamp: start}
	}

	group := req.Group
	if group == "" {
		group = c.groupFunc(req)
	}
	correlationID := uuid.NewString()

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "correlationID", correlationID, "method", req.Method, "path", req.Path, "group", group)
	}

	c.metrics.RecordRequestStart(req.Method, group)
	defer c.metrics.RecordRequestEnd(req.Method, group)

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "titipan.request",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.path", req.Path),
				attribute.String("titipan.group", group),
				attribute.String("titipan.correlation_id", correlationID),
			))
		defer span.End()
	}

	// A call rejected by an open circuit must never enter the dedup
	// cache, so the breaker is peeked before the dedup consult.
	breaker := c.breakers.get(group)
	if !breaker.CanAttempt() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "correlationID", correlationID, "group", group)
		}
		c.metrics.RecordError(KindCircuitOpen, req.Method, group)
		apiErr := c.newError(req, group, correlationID, KindCircuitOpen, "circuit breaker is open", nil, 0, 0, start)
		return c.settle(span, req, group, nil, apiErr, nil, start)
	}

	var entry *DedupEntry
	var dedupKey string
	owner := true
	if c.dedup != nil && c.dedupCondition(req) {
		dedupKey = c.dedupKeyFunc(req, body)
		entry, owner = c.dedup.GetOrCreateEntry(dedupKey)
		if !owner {
			if c.debug != nil && c.debug.Enabled && c.debug.LogDedup && c.logger != nil {
				c.logger.Debug("Joining in-flight request", "correlationID", correlationID, "dedupKey", dedupKey)
			}
			c.metrics.RecordDedupHit(req.Method, group)
			resp, err := entry.Wait(ctx)
			if err != nil && !isAPIError(err) {
				kind := cancelKind(err)
				err = c.newError(req, group, correlationID, kind, cancelMessage(kind), err, 0, 0, start)
			}
			return c.settle(span, req, group, resp, err, out, start)
		}
	}

	resp, doErr := c.doWithRetry(ctx, req, body, group, breaker, correlationID, 1, start)

	if owner && entry != nil {
		c.dedup.Complete(dedupKey, resp, doErr)
	}

	return c.settle(span, req, group, resp, doErr, out, start)
}

// settle records the terminal outcome and decodes the payload for this
// caller. Both the dedup owner and every waiter pass through here, so
// metrics count each logical caller once.
func (c *Client) settle(span trace.Span, req *Request, group string, resp *Response, err error, out any, start time.Time) (*Response, error) {
	duration := time.Since(start)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	c.metrics.RecordRequest(req.Method, group, status, duration)

	if resp != nil && resp.RateLimit != nil {
		c.metrics.RecordRateLimitRemaining(group, resp.RateLimit.Remaining)
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.Status),
				attribute.Int("titipan.attempts", resp.Attempts),
			)
			span.SetStatus(codes.Ok, "")
		}
	}

	if err != nil {
		return nil, err
	}
	if decodeErr := resp.Decode(out); decodeErr != nil {
		return nil, &APIError{
			Kind:          KindValidation,
			Message:       "malformed response payload",
			Cause:         decodeErr,
			Status:        resp.Status,
			CorrelationID: resp.CorrelationID,
			Method:        req.Method,
			Group:         group,
			Timestamp:     time.Now(),
			Duration:      duration,
		}
	}
	return resp, nil
}

func (c *Client) doWithRetry(ctx context.Context, req *Request, body []byte, group string, breaker *CircuitBreaker, correlationID string, attempt int, start time.Time) (*Response, error) {
	if c.limiters != nil {
		if !c.limiters.Allow(group) {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
				c.logger.Warn("Local rate limit exceeded", "correlationID", correlationID, "group", group)
			}
			c.metrics.RecordError(KindRateLimited, req.Method, group)
			return nil, c.newError(req, group, correlationID, KindRateLimited, "local rate limit exceeded", nil, 0, attempt-1, start)
		}
		c.metrics.RecordLimiterTokens(group, c.limiters.Tokens(group))
	}

	if !breaker.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "correlationID", correlationID, "group", group, "state", breaker.State().String())
		}
		c.metrics.RecordError(KindCircuitOpen, req.Method, group)
		return nil, c.newError(req, group, correlationID, KindCircuitOpen, "circuit breaker is open", nil, 0, attempt-1, start)
	}

	if attempt > 1 {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Retry attempt", "correlationID", correlationID, "attempt", attempt, "maxAttempts", c.maxAttempts, "group", group)
		}
		c.metrics.RecordRetry(req.Method, group, attempt-1)
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := req.build(attemptCtx, c.baseURL, body)
	if err != nil {
		cancel()
		return nil, c.newError(req, group, correlationID, KindValidation, "building request", err, 0, attempt-1, start)
	}
	if err := c.attachHeaders(ctx, httpReq, req, correlationID); err != nil {
		cancel()
		return nil, c.newError(req, group, correlationID, KindAuthentication, "attaching credentials", err, 0, attempt-1, start)
	}

	httpResp, err := c.execute(httpReq)

	var status int
	var header http.Header
	var respBody []byte
	var kind ErrorKind
	var wire *errorEnvelope

	if err != nil {
		cancel()
		kind = classifyTransport(err)
	} else {
		respBody, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		if err != nil {
			kind = classifyTransport(err)
		} else {
			status = httpResp.StatusCode
			header = httpResp.Header
			if status >= 400 {
				kind, wire = classifyBody(status, respBody)
			}
		}
	}

	// Caller cancellation is not a service failure; everything else
	// that failed to produce a non-5xx response counts against the
	// breaker, per network attempt.
	switch {
	case err != nil && kind == KindCancelled:
	case err != nil || status >= 500:
		breaker.RecordFailure()
	default:
		breaker.RecordSuccess()
	}
	c.metrics.RecordBreakerState(group, breaker.State())

	if info := parseRateLimit(header); info != nil {
		c.metrics.RecordRateLimitRemaining(group, info.Remaining)
	}

	if err == nil && status < 400 {
		return buildResponse(req, status, header, respBody, correlationID, attempt), nil
	}

	c.metrics.RecordError(kind, req.Method, group)

	policy := c.retryPolicy
	if req.RetryPolicy != nil {
		policy = req.RetryPolicy
	}
	var resetAt time.Time
	if header != nil {
		resetAt = resetTimeFrom(header)
	}
	delay, retry := policy.Decide(Attempt{
		Kind:       kind,
		Status:     status,
		Method:     req.Method,
		Number:     attempt,
		Idempotent: req.idempotent(),
		ResetAt:    resetAt,
	})
	if retry && req.MaxAttempts > 0 && attempt >= req.MaxAttempts {
		retry = false
	}

	if retry {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "correlationID", correlationID, "attempt", attempt+1, "backoff", delay, "group", group)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			ctxErr := ctx.Err()
			waitKind := cancelKind(ctxErr)
			return nil, c.newError(req, group, correlationID, waitKind, cancelMessage(waitKind)+" during backoff", ctxErr, 0, attempt, start)
		}
		return c.doWithRetry(ctx, req, body, group, breaker, correlationID, attempt+1, start)
	}

	return nil, c.terminalError(req, group, correlationID, kind, wire, err, status, attempt, start)
}

// execute runs the middleware chain around the underlying transport.
func (c *Client) execute(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripper(RoundTripperFunc(c.httpClient.Do))
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		})
	}
	return current.RoundTrip(req)
}

// attachHeaders applies the per-attempt security headers. The
// correlation id is generated once per logical request and reused
// across retries; the bearer and CSRF tokens are re-resolved per
// attempt so a refresh between retries takes effect.
func (c *Client) attachHeaders(ctx context.Context, httpReq *http.Request, req *Request, correlationID string) error {
	httpReq.Header.Set("X-Correlation-ID", correlationID)
	httpReq.Header.Set("User-Agent", UserAgent())

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if isMutating(req.Method) {
		if c.csrf != nil {
			csrf, err := c.csrf.CSRFToken(ctx)
			if err != nil {
				return err
			}
			if csrf != "" {
				httpReq.Header.Set("X-CSRF-Token", csrf)
			}
		}
		if req.IdempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
		}
	}

	return nil
}

// classifyBody interprets an error response body. A canonical error
// envelope with a known code wins; otherwise the status decides.
func classifyBody(status int, body []byte) (ErrorKind, *errorEnvelope) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		if knownKind(env.Code) {
			return ErrorKind(env.Code), &env
		}
		return classifyStatus(status), &env
	}
	return classifyStatus(status), nil
}

func (c *Client) newError(req *Request, group, correlationID string, kind ErrorKind, message string, cause error, status, attempts int, start time.Time) *APIError {
	return &APIError{
		Kind:          kind,
		Message:       message,
		Status:        status,
		Retryable:     retryableKind(kind),
		CorrelationID: correlationID,
		Method:        req.Method,
		URL:           req.urlString(c.baseURL),
		Group:         group,
		Attempts:      attempts,
		MaxAttempts:   c.maxAttempts,
		Timestamp:     time.Now(),
		Duration:      time.Since(start),
		Cause:         cause,
	}
}

func (c *Client) terminalError(req *Request, group, correlationID string, kind ErrorKind, wire *errorEnvelope, cause error, status, attempts int, start time.Time) *APIError {
	apiErr := c.newError(req, group, correlationID, kind, "request failed", cause, status, attempts, start)
	switch kind {
	case KindTimeout:
		apiErr.Message = "request timed out"
	case KindNetwork:
		apiErr.Message = "network request failed"
	}
	if wire != nil {
		if wire.Message != "" {
			apiErr.Message = wire.Message
		}
		apiErr.Details = wire.Details
		if wire.CorrelationID != "" {
			apiErr.CorrelationID = wire.CorrelationID
		}
	}
	return apiErr
}

func cancelKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCancelled
}

func cancelMessage(kind ErrorKind) string {
	if kind == KindTimeout {
		return "request timed out"
	}
	return "request cancelled"
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// BreakerSnapshot returns a point-in-time view of one endpoint group's
// breaker, creating it if the group has not been called yet.
func (c *Client) BreakerSnapshot(group string) BreakerSnapshot {
	return c.breakers.get(group).Snapshot()
}
