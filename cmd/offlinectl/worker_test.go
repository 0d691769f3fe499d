package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerState(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
		skip string
	}{
		{"before deploy", `{"state":"none"}`, []string{"State:      none"}, "Worker:"},
		{"active", `{"state":"active","id":"w-1","generation":"v2"}`, []string{"State:      active", "Worker:     w-1", "Generation: v2"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/sw/state", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "state")
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			if tt.skip != "" {
				assert.NotContains(t, out, tt.skip)
			}
		})
	}
}

func TestWorkerDeploy(t *testing.T) {
	var req map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sw/deploy", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"id":"w-2","generation":"v3","state":"active"}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "deploy", "v3")
	require.NoError(t, err)
	assert.Equal(t, "v3", req["generation"])
	assert.Contains(t, out, "Worker w-2 (v3) is active.")
}

func TestWorkerTask_DefaultsToRetry(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"done"}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "task")
	require.NoError(t, err)
	assert.Equal(t, "/sw/tasks/retry-failed-videos", path)
}

func TestWorkerPush_NotActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"worker is not active"}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "push", "--title", "New")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestWorkerVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sw/video", r.URL.Path)
		require.Equal(t, "https://cdn.example/42.mp4", r.URL.Query().Get("url"))
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/42.mp4","cached":true}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "video", "https://cdn.example/42.mp4")
	require.NoError(t, err)
	assert.Equal(t, "cached\n", out)
}

func TestWorkerClients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"c-1","url":"http://tv.local/","controlled":true}]`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "http://127.0.0.1:1", srv.URL, "worker", "clients")
	require.NoError(t, err)
	assert.Contains(t, out, "c-1")
	assert.Contains(t, out, "http://tv.local/")
	assert.Contains(t, out, "true")
}
