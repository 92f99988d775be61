package gatelinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseStageSurfacesUnmetRequirements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/stages/s1/close", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code":    "gate_not_satisfied",
			"message": "gate not satisfied",
			"details": map[string]any{"unmet": []string{"photos link missing"}},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL + "/v0")
	c.BearerToken = "tok"
	_, err := c.CloseStage(context.Background(), "s1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "gate_not_satisfied", apiErr.Code)
	assert.Equal(t, []string{"photos link missing"}, apiErr.Unmet)
}

func TestSubmitTaskSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks/t1/submit", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://files/x.pdf", body["file_link"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task":     map[string]any{"id": "t1", "status": "submitted"},
			"score":    map[string]any{"score": 80, "lateness_days": 2},
			"replayed": false,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "key"
	res, err := c.SubmitTask(context.Background(), "t1", "https://files/x.pdf", "k-1")
	require.NoError(t, err)
	assert.Equal(t, "submitted", res.Task.Status)
	assert.Equal(t, 80, res.Score.Score)
	assert.Equal(t, 2, res.Score.LatenessDays)
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": 41, "type": "stage.completed"}},
			"next_cursor": "41",
		})
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 10, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "stage.completed", page.Items[0].Type)
	assert.Equal(t, "41", page.NextCursor)
}
