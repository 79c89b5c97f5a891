package yengapay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kreezus/yengapay-gateway/internal/config"
	"github.com/kreezus/yengapay-gateway/internal/obs"
	"github.com/kreezus/yengapay-gateway/internal/resilience"
)

// maxErrorBodyBytes bounds how much of a failed response is kept for logs.
const maxErrorBodyBytes = 2048

// Client issues payment-intent calls against the YengaPay API. The wrapped
// HTTP client enforces the per-call timeout and never retries: a failed
// attempt surfaces immediately and the shopper decides whether to try again.
type Client struct {
	Credentials config.Credentials
	BaseURL     string
	HTTP        *resilience.HTTPClient
	Logger      zerolog.Logger
}

// NewClient constructs a gateway client with a bounded timeout.
func NewClient(creds config.Credentials, baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		Credentials: creds,
		BaseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(5, 0.6, 30*time.Second).WithLogger(logger),
			MaxAttempts: 1,
			Timeout:     timeout,
		},
		Logger: logger,
	}
}

// CreateIntent posts the intent request and returns the hosted checkout URL.
// Success requires HTTP 200/201, a JSON body and a non-empty checkout URL;
// anything else is a *GatewayError.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	ctx, span := otel.Tracer("yengapay.Client").Start(ctx, "Client.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.String("order.reference", req.Reference))

	start := time.Now()
	result := "error"
	defer func() {
		if obs.GatewayRequestDuration != nil {
			obs.GatewayRequestDuration.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("yengapay: encode intent request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/groups/%s/payment-intent/%s",
		c.BaseURL, c.Credentials.GroupID, c.Credentials.ProjectID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return IntentResponse{}, fmt.Errorf("yengapay: build intent request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.Credentials.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, httpReq)
	if err != nil {
		span.RecordError(err)
		return IntentResponse{}, fmt.Errorf("yengapay: intent call failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		return IntentResponse{}, fmt.Errorf("yengapay: read intent response: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		gwErr := &GatewayError{StatusCode: resp.StatusCode, Body: truncate(body)}
		c.Logger.Error().Int("status", resp.StatusCode).Str("reference", req.Reference).
			Str("body", gwErr.Body).Msg("gateway rejected payment intent")
		return IntentResponse{}, gwErr
	}

	var parsed IntentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		gwErr := &GatewayError{StatusCode: resp.StatusCode, Body: truncate(body)}
		c.Logger.Error().Err(err).Str("reference", req.Reference).Msg("gateway response is not valid JSON")
		return IntentResponse{}, gwErr
	}
	if strings.TrimSpace(parsed.CheckoutPageURLWithPaymentToken) == "" {
		gwErr := &GatewayError{StatusCode: resp.StatusCode, Body: truncate(body)}
		c.Logger.Error().Str("reference", req.Reference).Msg("gateway response has no checkout URL")
		return IntentResponse{}, gwErr
	}

	result = "success"
	return parsed, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}
	return string(body)
}
