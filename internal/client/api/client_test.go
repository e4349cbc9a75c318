package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mux
}

func TestLoginStoresToken(t *testing.T) {
	srv, mux := newTestServer(t)
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("/api/connectors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"connectors": []ConnectorStatus{{ID: "journal"}}})
	})

	c := NewClient(srv.URL, time.Second)
	require.False(t, c.IsLoggedIn())

	require.NoError(t, c.Login(context.Background(), []byte("hunter2")))
	require.True(t, c.IsLoggedIn())

	list, err := c.Connectors(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "journal", list[0].ID)
}

func TestLoginWrongPassword(t *testing.T) {
	srv, mux := newTestServer(t)
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewClient(srv.URL, time.Second)
	err := c.Login(context.Background(), []byte("nope"))
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.IsLoggedIn())
}

func TestTriggerUploadsFile(t *testing.T) {
	srv, mux := newTestServer(t)

	var gotName, gotContent, gotMeta string
	mux.HandleFunc("/api/connectors/journal/trigger", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotMeta = r.FormValue("metadata")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		b, err := io.ReadAll(file)
		require.NoError(t, err)
		gotContent = string(b)

		json.NewEncoder(w).Encode(TriggerResult{Records: []InsertionRecord{{EntryUUID: "text-x"}}})
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "export.zip")
	require.NoError(t, os.WriteFile(path, []byte("zipbytes"), 0o600))

	c := NewClient(srv.URL, time.Second)
	result, err := c.Trigger(context.Background(), "journal", path, map[string]any{"source": "manual"})
	require.NoError(t, err)

	assert.Equal(t, "export.zip", gotName)
	assert.Equal(t, "zipbytes", gotContent)
	assert.JSONEq(t, `{"source":"manual"}`, gotMeta)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "text-x", result.Records[0].EntryUUID)
}

func TestTriggerWithoutFileSendsJSON(t *testing.T) {
	srv, mux := newTestServer(t)
	mux.HandleFunc("/api/connectors/sensors/trigger", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		var body struct {
			Metadata map[string]any `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1", body.Metadata["full"])
		json.NewEncoder(w).Encode(TriggerResult{})
	})

	c := NewClient(srv.URL, time.Second)
	_, err := c.Trigger(context.Background(), "sensors", "", map[string]any{"full": "1"})
	require.NoError(t, err)
}

func TestRPCReturnsServerError(t *testing.T) {
	srv, mux := newTestServer(t)
	mux.HandleFunc("/api/connectors/fit/rpc/set_access_token", func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "abc", params["token"])
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/connectors/missing/rpc/x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "connector not found"})
	})

	c := NewClient(srv.URL, time.Second)

	out, err := c.RPC(context.Background(), "fit", "set_access_token", map[string]any{"token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])

	_, err = c.RPC(context.Background(), "missing", "x", nil)
	require.ErrorContains(t, err, "connector not found")
}
