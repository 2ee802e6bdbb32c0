package http_request_action

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstairs/flowline/pkg/models"
)

func TestNewHTTPRequestActionFactory(t *testing.T) {
	factory := NewHTTPRequestActionFactory()
	assert.NotNil(t, factory)
	assert.Equal(t, "http_request", factory.ID())
}

func TestNewHTTPRequestAction_Defaults(t *testing.T) {
	action, err := NewHTTPRequestAction(map[string]any{"url": "https://api.example.com"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, action.Method)
	assert.Equal(t, 30*time.Second, action.Timeout)
	assert.Empty(t, action.Headers)
}

func TestNewHTTPRequestAction_Config(t *testing.T) {
	action, err := NewHTTPRequestAction(map[string]any{
		"url":             "https://api.example.com",
		"method":          "post",
		"timeout_seconds": float64(5),
		"headers": map[string]any{
			"Authorization": "Bearer token",
			"ignored":       42,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, action.Method)
	assert.Equal(t, 5*time.Second, action.Timeout)
	assert.Equal(t, map[string]string{"Authorization": "Bearer token"}, action.Headers)
}

func TestHTTPRequestAction_Execute(t *testing.T) {
	var gotMethod, gotAuth, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			gotBody, _ = payload["order_id"].(string)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "created-1"}`))
	}))
	defer server.Close()

	action, err := NewHTTPRequestAction(map[string]any{
		"url":    server.URL + "/orders",
		"method": "POST",
		"body":   `{"order_id": "{{.trigger.order_id}}"}`,
		"headers": map[string]any{
			"Authorization": "Bearer {{.vars.token}}",
		},
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		TriggerData: map[string]any{"order_id": "ord-42"},
		Variables:   map[string]any{"token": "t0ken"},
	}

	outcome, err := action.Execute(context.Background(), executionCtx, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer t0ken", gotAuth)
	assert.Equal(t, "ord-42", gotBody)

	output, ok := outcome.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, output["status_code"])

	body, ok := output["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "created-1", body["id"])
}

func TestHTTPRequestAction_Execute_NonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	action, err := NewHTTPRequestAction(map[string]any{"url": server.URL})
	require.NoError(t, err)

	outcome, err := action.Execute(context.Background(), models.ExecutionContext{}, slog.Default())
	require.NoError(t, err)

	output, ok := outcome.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", output["body"])
}

func TestHTTPRequestAction_Execute_TestMode(t *testing.T) {
	// No server: a dry run must never open a connection.
	action, err := NewHTTPRequestAction(map[string]any{
		"url": "http://127.0.0.1:1/orders"})
	require.NoError(t, err)

	outcome, err := action.Execute(context.Background(),
		models.ExecutionContext{TestMode: true}, slog.Default())
	require.NoError(t, err)

	output, ok := outcome.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["simulated"])
	assert.Equal(t, "http://127.0.0.1:1/orders", output["url"])
}
