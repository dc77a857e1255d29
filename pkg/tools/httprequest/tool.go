// Package httprequest provides a tool that performs an HTTP request, with
// bounded retries on transport errors and 5xx responses.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

type Tool struct {
	client *http.Client
}

func NewTool() *Tool {
	return &Tool{
		client: &http.Client{},
	}
}

func (*Tool) ID() string {
	return "http_request"
}

type request struct {
	method        string
	url           string
	headers       map[string]string
	body          string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
}

func parseRequest(args map[string]any) (*request, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request requires a 'url' argument")
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := args["body"].(string)

	headers := make(map[string]string)
	if raw, ok := args["headers"].(map[string]any); ok {
		for key, value := range raw {
			if str, ok := value.(string); ok {
				headers[key] = str
			}
		}
	}

	req := &request{
		method:        strings.ToUpper(method),
		url:           url,
		headers:       headers,
		body:          body,
		timeout:       defaultTimeout,
		retryAttempts: 1,
	}

	// JSON numbers decode as float64.
	if timeout, ok := args["timeout"].(float64); ok && timeout > 0 {
		req.timeout = time.Duration(timeout) * time.Second
	}

	if retry, ok := args["retry"].(map[string]any); ok {
		if attempts, ok := retry["attempts"].(float64); ok && attempts >= 1 {
			req.retryAttempts = int(attempts)
		}

		if delay, ok := retry["delay"].(float64); ok && delay >= 0 {
			req.retryDelay = time.Duration(delay) * time.Second
		}
	}

	return req, nil
}

func (t *Tool) Execute(ctx context.Context, args map[string]any, logger *slog.Logger) (any, error) {
	req, err := parseRequest(args)
	if err != nil {
		return nil, err
	}

	var (
		resp    *http.Response
		lastErr error
	)

	for attempt := 1; attempt <= req.retryAttempts; attempt++ {
		if attempt > 1 {
			logger.Info("Retrying HTTP request",
				"attempt", attempt,
				"max_attempts", req.retryAttempts)
			time.Sleep(req.retryDelay)
		}

		resp, lastErr = t.attempt(ctx, req)
		if lastErr != nil {
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < req.retryAttempts {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("server error (status %d)", resp.StatusCode)

			continue
		}

		break
	}

	if lastErr != nil {
		return nil, fmt.Errorf("http request failed after %d attempt(s): %w", req.retryAttempts, lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	logger.Info("HTTP request completed",
		"status_code", resp.StatusCode,
		"body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}

func (t *Tool) attempt(ctx context.Context, req *request) (*http.Response, error) {
	var bodyReader io.Reader
	if req.body != "" {
		bodyReader = strings.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}

	// Client.Timeout covers the full exchange including the body read, which
	// a per-attempt context deadline would cut short.
	client := *t.client
	client.Timeout = req.timeout

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return resp, nil
}
