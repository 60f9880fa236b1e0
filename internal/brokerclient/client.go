// Package brokerclient implements the typed HTTP client bound to one upstream
// broker-API instance (C1): uniform envelope decoding, per-call deadlines, and
// a retry policy that distinguishes idempotent reads from non-idempotent
// writes.
package brokerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// wireEnvelope is the over-the-wire shape every upstream response shares;
// Data stays raw until the caller knows what shape to decode it as.
type wireEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (w wireEnvelope) toDomain() domain.Envelope {
	return domain.Envelope{Status: w.Status, Message: w.Message, Error: w.Error}
}

// Client is a domain.BrokerClient bound to one instance's host and credential.
type Client struct {
	hostURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	timeout    time.Duration
}

// Options configures a Client's retry and timeout behavior.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Log        zerolog.Logger
}

// idempotentPaths are the logical operations allowed to retry on transport
// ambiguity; everything else is a write and retries are suppressed.
var idempotentPaths = map[string]bool{
	"ping":         true,
	"funds":        true,
	"orderbook":    true,
	"tradebook":    true,
	"positionbook": true,
	"analyzer":     true,
}

// New constructs a Client for one instance.
func New(hostURL, apiKey string, opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryDelay
	rc.RetryWaitMax = opts.RetryDelay * 8
	rc.HTTPClient.Timeout = opts.Timeout
	rc.CheckRetry = checkRetry

	return &Client{
		hostURL:    strings.TrimRight(hostURL, "/"),
		apiKey:     apiKey,
		httpClient: rc,
		timeout:    opts.Timeout,
	}
}

// checkRetry implements §4.1's retry policy: idempotent reads retry on
// transport ambiguity and 5xx; non-idempotent writes never retry; 4xx never
// retries for either.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	path, _ := ctx.Value(operationKey{}).(string)
	if !idempotentPaths[path] {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == 0 {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, nil
	}
	return false, nil
}

type operationKey struct{}

// do performs one call against the instance, decoding the envelope.
func (c *Client) do(ctx context.Context, operation, method, path string, body interface{}) (wireEnvelope, error) {
	ctx = context.WithValue(ctx, operationKey{}, operation)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return wireEnvelope{}, apierrors.Internal(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.hostURL+"/"+path, reader)
	if err != nil {
		return wireEnvelope{}, apierrors.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return wireEnvelope{}, apierrors.UpstreamUnavailable("request timed out", err)
		}
		return wireEnvelope{}, apierrors.UpstreamUnavailable("request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wireEnvelope{}, apierrors.UpstreamUnavailable("failed to read response body", err)
	}

	if resp.StatusCode >= 500 {
		return wireEnvelope{}, apierrors.UpstreamUnavailable(fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return wireEnvelope{}, apierrors.New(apierrors.KindUpstreamRejected, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return wireEnvelope{}, apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode upstream response", err)
	}
	if env.Status == "error" {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return wireEnvelope{}, apierrors.UpstreamRejected(msg)
	}

	return env, nil
}

// asDomain converts a do() result into the domain.Envelope every interface
// method returns alongside its typed value, regardless of outcome.
func asDomain(env wireEnvelope, err error) domain.Envelope {
	if err != nil {
		return domain.Envelope{Status: "error", Error: err.Error()}
	}
	return env.toDomain()
}

// Ping implements domain.BrokerClient.
func (c *Client) Ping(ctx context.Context) (domain.Envelope, error) {
	env, err := c.do(ctx, "ping", http.MethodGet, "ping", nil)
	return asDomain(env, err), err
}

// Funds implements domain.BrokerClient.
func (c *Client) Funds(ctx context.Context) (domain.FundsResult, domain.Envelope, error) {
	env, err := c.do(ctx, "funds", http.MethodGet, "funds", nil)
	if err != nil {
		return domain.FundsResult{}, asDomain(env, err), err
	}
	var out domain.FundsResult
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode funds payload", jsonErr)
		return domain.FundsResult{}, asDomain(env, wrapped), wrapped
	}
	return out, asDomain(env, nil), nil
}

// OrderBook implements domain.BrokerClient.
func (c *Client) OrderBook(ctx context.Context) ([]domain.OrderBookRow, domain.Envelope, error) {
	env, err := c.do(ctx, "orderbook", http.MethodGet, "orderbook", nil)
	if err != nil {
		return nil, asDomain(env, err), err
	}
	var out []domain.OrderBookRow
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode orderbook payload", jsonErr)
		return nil, asDomain(env, wrapped), wrapped
	}
	return out, asDomain(env, nil), nil
}

// TradeBook implements domain.BrokerClient.
func (c *Client) TradeBook(ctx context.Context) ([]domain.Trade, domain.Envelope, error) {
	env, err := c.do(ctx, "tradebook", http.MethodGet, "tradebook", nil)
	if err != nil {
		return nil, asDomain(env, err), err
	}
	var out []domain.Trade
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode tradebook payload", jsonErr)
		return nil, asDomain(env, wrapped), wrapped
	}
	return out, asDomain(env, nil), nil
}

// PositionBook implements domain.BrokerClient.
func (c *Client) PositionBook(ctx context.Context) ([]domain.UpstreamPosition, domain.Envelope, error) {
	env, err := c.do(ctx, "positionbook", http.MethodGet, "positionbook", nil)
	if err != nil {
		return nil, asDomain(env, err), err
	}
	var out []domain.UpstreamPosition
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode positionbook payload", jsonErr)
		return nil, asDomain(env, wrapped), wrapped
	}
	return out, asDomain(env, nil), nil
}

// Analyzer implements domain.BrokerClient.
func (c *Client) Analyzer(ctx context.Context) (bool, domain.Envelope, error) {
	env, err := c.do(ctx, "analyzer", http.MethodGet, "analyzer", nil)
	if err != nil {
		return false, asDomain(env, err), err
	}
	var out struct {
		Mode string `json:"mode"`
	}
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode analyzer payload", jsonErr)
		return false, asDomain(env, wrapped), wrapped
	}
	return out.Mode == "analyze", asDomain(env, nil), nil
}

// ToggleAnalyzer implements domain.BrokerClient.
func (c *Client) ToggleAnalyzer(ctx context.Context, mode bool) (domain.Envelope, error) {
	env, err := c.do(ctx, "analyzer/toggle", http.MethodPost, "analyzer/toggle", map[string]interface{}{"mode": mode})
	return asDomain(env, err), err
}

// PlaceSmartOrder implements domain.BrokerClient.
func (c *Client) PlaceSmartOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlaceOrderResult, domain.Envelope, error) {
	env, err := c.do(ctx, "placesmartorder", http.MethodPost, "placesmartorder", req)
	if err != nil {
		return domain.PlaceOrderResult{}, asDomain(env, err), err
	}
	var out domain.PlaceOrderResult
	if jsonErr := json.Unmarshal(env.Data, &out); jsonErr != nil {
		wrapped := apierrors.Wrap(apierrors.KindUpstreamUnavailable, "failed to decode order placement payload", jsonErr)
		return domain.PlaceOrderResult{}, asDomain(env, wrapped), wrapped
	}
	return out, asDomain(env, nil), nil
}

// CancelOrder implements domain.BrokerClient.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Envelope, error) {
	env, err := c.do(ctx, "cancelorder", http.MethodPost, "cancelorder", map[string]interface{}{"order_id": orderID})
	return asDomain(env, err), err
}

// CancelAllOrders implements domain.BrokerClient.
func (c *Client) CancelAllOrders(ctx context.Context, strategy string) (domain.Envelope, error) {
	env, err := c.do(ctx, "cancelallorder", http.MethodPost, "cancelallorder", strategyBody(strategy))
	return asDomain(env, err), err
}

// ClosePosition implements domain.BrokerClient.
func (c *Client) ClosePosition(ctx context.Context, strategy string) (domain.Envelope, error) {
	env, err := c.do(ctx, "closeposition", http.MethodPost, "closeposition", strategyBody(strategy))
	return asDomain(env, err), err
}

func strategyBody(strategy string) map[string]interface{} {
	body := map[string]interface{}{}
	if s := strings.TrimSpace(strategy); s != "" {
		body["strategy"] = s
	}
	return body
}

var _ domain.BrokerClient = (*Client)(nil)
