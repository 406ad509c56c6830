package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Token: "test-token"})
	require.NoError(t, err)
	return client
}

func TestGetTask(t *testing.T) {
	completedAt := time.Date(2026, 8, 20, 15, 4, 5, 0, time.UTC)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/abc123", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(Task{
			ID:          "abc123",
			Content:     "Buy milk",
			Completed:   true,
			CompletedAt: &completedAt,
		})
	}))

	task, err := client.GetTask(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", task.ID)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(completedAt))
}

func TestGetTask_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetTask_ServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))

	_, err := client.GetTask(context.Background(), "abc123")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound), "5xx is transient, not not-found")
	assert.Contains(t, err.Error(), "503")
}

func TestCloseTask(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.CloseTask(context.Background(), "abc123"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/tasks/abc123/close", gotPath)
}

func TestCreateTask(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var fields NewTaskFields
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
		assert.Equal(t, "Buy milk", fields.Content)

		json.NewEncoder(w).Encode(Task{ID: "new123x", Content: fields.Content})
	}))

	task, err := client.CreateTask(context.Background(), NewTaskFields{Content: "Buy milk"})
	require.NoError(t, err)
	assert.Equal(t, "new123x", task.ID)
}

func TestTranslateID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/id-mappings/123456", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"canonical_id": "6XWhhQmh2Qv29fXP"})
	}))

	canonical, err := client.TranslateID(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "6XWhhQmh2Qv29fXP", canonical)
}
