package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:        core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:     core.HTTPMaxConnsPerHost,
		IdleConnTimeout:     core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout: core.HTTPTLSHandshakeTimeout,
	}
}

// NewHTTPClient builds the pooled client shared by all adapters. Per-call
// deadlines come from the request context, so the client has no timeout.
func NewHTTPClient(settings HTTPClientSettings) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          settings.MaxIdleConns,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   settings.TLSHandshakeTimeout,
		ExpectContinueTimeout: core.HTTPExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: core.HTTPResponseHeaderTimeout,
	}

	return &http.Client{Transport: transport}
}

// postJSON sends payload and decodes a 2xx body into out. Any other status
// becomes a *core.ProviderError classified from status and body.
func postJSON(ctx context.Context, client *http.Client, provider, model, url string, headers map[string]string, payload, out any) error {
	req, err := util.NewJSONRequest(ctx, http.MethodPost, url, payload, headers)
	if err != nil {
		return &core.ProviderError{Provider: provider, Model: model, Kind: core.KindRequest, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	resp, err := client.Do(req) //nolint:gosec // G107: URL comes from the provider catalog
	if err != nil {
		return transportError(provider, model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBodySize))
		return statusError(provider, model, resp, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return transportError(provider, model, err)
	}
	if err := util.UnmarshalJSON(body, out); err != nil {
		return &core.ProviderError{Provider: provider, Model: model, Kind: core.KindUnknown, Status: resp.StatusCode, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return nil
}

func statusError(provider, model string, resp *http.Response, body []byte) *core.ProviderError {
	message := ExtractErrorMessage(body)
	if message == "" {
		message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
	if retryAfter == 0 {
		retryAfter = ParseRetryHint(string(body))
	}
	return &core.ProviderError{
		Provider:   provider,
		Model:      model,
		Kind:       Classify(resp.StatusCode, message+" "+string(body)),
		Status:     resp.StatusCode,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func transportError(provider, model string, err error) *core.ProviderError {
	kind := core.KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = core.KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = core.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = core.KindTimeout
	}
	return &core.ProviderError{Provider: provider, Model: model, Kind: kind, Message: err.Error()}
}
