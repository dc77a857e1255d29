package httprequest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestExecuteGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tool := NewTool()

	result, err := tool.Execute(context.Background(), map[string]any{"url": server.URL}, testLogger())
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resultMap["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, resultMap["body"])
}

func TestExecutePostWithHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"clip":"intro"}`, string(body))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer server.Close()

	tool := NewTool()

	result, err := tool.Execute(context.Background(), map[string]any{
		"url":     server.URL,
		"method":  "post",
		"body":    `{"clip":"intro"}`,
		"headers": map[string]any{"Content-Type": "application/json"},
	}, testLogger())
	require.NoError(t, err)

	resultMap := result.(map[string]any)
	assert.Equal(t, http.StatusCreated, resultMap["status_code"])
	// A non-JSON response body comes back as a plain string.
	assert.Equal(t, "created", resultMap["body"])
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte(`"recovered"`))
	}))
	defer server.Close()

	tool := NewTool()

	result, err := tool.Execute(context.Background(), map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"attempts": 3.0, "delay": 0.0},
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, "recovered", result.(map[string]any)["body"])
}

func TestExecuteMissingURL(t *testing.T) {
	tool := NewTool()

	_, err := tool.Execute(context.Background(), map[string]any{}, testLogger())
	assert.ErrorContains(t, err, "url")
}
