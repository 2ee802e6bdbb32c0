// Package http_request_action performs an outbound HTTP request as a
// pipeline step. In test mode the request is never sent; the action
// returns a labeled simulated response instead.
package http_request_action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/template"
)

type HTTPRequestAction struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

func NewHTTPRequestAction(config map[string]any) (*HTTPRequestAction, error) {
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	url, _ := config["url"].(string)
	body, _ := config["body"].(string)

	headers := make(map[string]string)
	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	timeout := 30 * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &HTTPRequestAction{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

func (a *HTTPRequestAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "http_request")

	url, err := a.renderString(a.URL, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	body, err := a.renderString(a.Body, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	if executionCtx.TestMode {
		logger.Info("Simulating HTTP request", "method", a.Method, "url", url)

		return &protocol.StepOutcome{
			Output: map[string]any{
				"simulated":   true,
				"method":      a.Method,
				"url":         url,
				"status_code": http.StatusOK,
				"body":        map[string]any{},
			},
		}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, a.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		rendered, err := a.renderString(value, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %s: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		parsed = string(bodyBytes)
	}

	logger.Info("HTTP request completed", "status", resp.StatusCode, "bytes", len(bodyBytes))

	return &protocol.StepOutcome{
		Output: map[string]any{
			"status_code": resp.StatusCode,
			"body":        parsed,
			"headers":     flattenHeaders(resp.Header),
		},
	}, nil
}

func (a *HTTPRequestAction) renderString(input string, executionCtx *models.ExecutionContext) (string, error) {
	if input == "" || !strings.Contains(input, "{{") {
		return input, nil
	}

	rendered, err := template.RenderWithContext(input, executionCtx)
	if err != nil {
		return "", err
	}

	if s, ok := rendered.(string); ok {
		return s, nil
	}

	encoded, err := json.Marshal(rendered)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}

	return out
}
