// Package rest is the only path from the connector to the exchange REST API.
// Every call resolves its URL, signs private requests, waits for rate limit
// admission and then hands the request to a Transport. Nothing here retries.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"payeerflow/internal/auth"
	"payeerflow/internal/payeer"
	"payeerflow/internal/throttler"
	"payeerflow/logger"
)

// Limiter admits calls by rate limit id.
type Limiter interface {
	Acquire(ctx context.Context, limitID string) (*throttler.Permit, error)
}

// Request describes one exchange call. LimitID defaults to Path.
type Request struct {
	Method  string
	Path    string
	Params  url.Values
	Body    any
	Private bool
	LimitID string
}

// RequestObserver is told the outcome of every admitted call.
type RequestObserver func(path string, status int, took time.Duration, err error)

type Option func(*Client)

func WithBaseURLs(public, private string) Option {
	return func(c *Client) {
		if public != "" {
			c.publicURL = public
		}
		if private != "" {
			c.privateURL = private
		}
	}
}

func WithObserver(fn RequestObserver) Option {
	return func(c *Client) { c.observe = fn }
}

type Client struct {
	transport  Transport
	limiter    Limiter
	signer     auth.Signer
	publicURL  string
	privateURL string
	observe    RequestObserver
	log        *logger.Log
}

// NewClient wires the pipeline. signer may be nil when only public endpoints
// are used.
func NewClient(transport Transport, limiter Limiter, signer auth.Signer, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		limiter:    limiter,
		signer:     signer,
		publicURL:  payeer.PublicRestBase,
		privateURL: payeer.PrivateRestBase,
		log:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope covers the response shapes Payeer uses to report failures.
type envelope struct {
	Code    json.RawMessage `json:"code"`
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Execute performs req and returns the decoded payload. When the body wraps
// its payload in a "data" field the inner value is returned.
func (c *Client) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	limitID := req.LimitID
	if limitID == "" {
		limitID = req.Path
	}

	base := c.publicURL
	if req.Private {
		base = c.privateURL
	}
	target := base + req.Path
	if len(req.Params) > 0 && method == http.MethodGet {
		target += "?" + req.Params.Encode()
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.Path, err)
		}
	}

	headers := payeer.RequestSourceHeaders()
	if len(body) > 0 {
		headers["Content-Type"] = "application/json"
	}
	if req.Private {
		if c.signer == nil {
			return nil, &auth.ConfigurationError{Field: "api_key", Reason: "is required for private endpoints"}
		}
		authHeaders, err := c.signer.Headers(req.Path, body)
		if err != nil {
			return nil, err
		}
		for k, v := range authHeaders {
			headers[k] = v
		}
	}

	if _, err := c.limiter.Acquire(ctx, limitID); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.transport.Do(ctx, &HTTPRequest{Method: method, URL: target, Headers: headers, Body: body})
	took := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			c.report(req.Path, 0, took, ctxErr)
			return nil, err
		}
		err = &TransientNetworkError{Op: method + " " + req.Path, Err: err}
		c.report(req.Path, 0, took, err)
		return nil, err
	}

	payload, err := decode(resp)
	c.report(req.Path, resp.StatusCode, took, err)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Get executes req and unmarshals the payload into out.
func (c *Client) Get(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodGet
	return c.into(ctx, req, out)
}

// Post executes req as a POST and unmarshals the payload into out, which may be nil.
func (c *Client) Post(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodPost
	return c.into(ctx, req, out)
}

func (c *Client) into(ctx context.Context, req Request, out any) error {
	payload, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}

func (c *Client) report(path string, status int, took time.Duration, err error) {
	if c.observe != nil {
		c.observe(path, status, took, err)
	}
	if err != nil {
		return
	}
	logger.LogPerformanceEntry(c.log.WithComponent("rest_client"), "rest_client", "api_request", took, logger.Fields{
		"path":   path,
		"status": status,
	})
}

func decode(resp *HTTPResponse) (json.RawMessage, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, resp.Body)
	}

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return json.RawMessage(trimmed), nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}

	if code, failed := errorCode(env.Code); failed {
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Code: code, Message: env.message()}
	}
	if env.Success != nil && !*env.Success {
		code, msg := env.describeError()
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}
	return json.RawMessage(trimmed), nil
}

// errorCode reports whether raw holds a non-zero code.
func errorCode(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return n.String(), f != 0
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return s, v != 0
		}
		return s, s != ""
	}
	return string(raw), true
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Error) > 0 {
		_, msg := e.describeError()
		return msg
	}
	return "request failed"
}

// describeError handles both {"error":"text"} and
// {"error":{"code":"INVALID_SIGNATURE","parameter":"..."}}.
func (e envelope) describeError() (string, string) {
	var text string
	if err := json.Unmarshal(e.Error, &text); err == nil && text != "" {
		return text, text
	}
	var detail struct {
		Code      string `json:"code"`
		Parameter string `json:"parameter"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &detail); err == nil && detail.Code != "" {
		msg := detail.Code
		if detail.Message != "" {
			msg = detail.Message
		}
		if detail.Parameter != "" {
			msg += " (" + detail.Parameter + ")"
		}
		return detail.Code, msg
	}
	if e.Message != "" {
		return "unknown", e.Message
	}
	return "unknown", "request failed"
}
