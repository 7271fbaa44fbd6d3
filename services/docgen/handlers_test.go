// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docgen

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
	"github.com/AleutianAI/AleutianDocs/services/llm/llmtest"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// startAndWait starts a run over HTTP and waits for it to finish.
func startAndWait(t *testing.T, svc *Service, router http.Handler, req StartRequest) StartResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/docgen/generate", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decodeBody[StartResponse](t, w)
	require.NotEmpty(t, resp.TaskID)

	run, ok := svc.Run(resp.TaskID)
	require.True(t, ok)
	waitDone(t, run)
	return resp
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil, nil))

	w := doJSON(t, router, http.MethodGet, "/v1/docgen/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_HandleReady(t *testing.T) {
	t.Run("without LLM", func(t *testing.T) {
		router := setupTestRouter(newTestService(t, nil, nil))
		w := doJSON(t, router, http.MethodGet, "/v1/docgen/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, decodeBody[ReadyResponse](t, w).Ready)
	})

	t.Run("with LLM", func(t *testing.T) {
		router := setupTestRouter(newTestService(t, llmtest.New(testResponse), nil))
		w := doJSON(t, router, http.MethodGet, "/v1/docgen/ready", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[ReadyResponse](t, w)
		assert.True(t, resp.Ready)
		assert.True(t, resp.LLMConfigured)
		assert.False(t, resp.StoreOK)
	})
}

func TestHandlers_HandleGenerate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		llm        bool
		body       any
		wantStatus int
		wantCode   string
	}{
		{"invalid body", true, "not an object", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing source", true, map[string]any{"docs_path": "/tmp/x"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"source not found", true, StartRequest{SourcePath: "/definitely/not/here"}, http.StatusNotFound, "PATH_NOT_FOUND"},
		{"no llm", false, StartRequest{SourcePath: "."}, http.StatusServiceUnavailable, "LLM_NOT_CONFIGURED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fake *llmtest.FakeClient
			if tt.llm {
				fake = llmtest.New(testResponse)
			}
			router := setupTestRouter(newTestService(t, fake, nil))

			w := doJSON(t, router, http.MethodPost, "/v1/docgen/generate", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeBody[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_RunLifecycle(t *testing.T) {
	src := writeSource(t)
	svc := newTestService(t, llmtest.New(testResponse), nil)
	router := setupTestRouter(svc)

	started := startAndWait(t, svc, router, StartRequest{SourcePath: src, Concurrency: 2})

	w := doJSON(t, router, http.MethodGet, "/v1/docgen/tasks/"+started.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[progress.RunState](t, w)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, float64(100), st.Progress)
	assert.Equal(t, 3, st.Stats.TotalFiles)

	w = doJSON(t, router, http.MethodGet, "/v1/docgen/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[ListResponse](t, w)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, started.TaskID, list.Tasks[0].ID)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/tasks/"+started.TaskID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TASK_FINISHED", decodeBody[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/docgen/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, router, http.MethodPost, "/v1/docgen/tasks/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_CancelRunningTask(t *testing.T) {
	src := writeSource(t)
	fake, release := blockingClient()
	svc := newTestService(t, fake, nil)
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/docgen/generate", StartRequest{SourcePath: src})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decodeBody[StartResponse](t, w).TaskID

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/generate", StartRequest{SourcePath: src})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/tasks/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, progress.StatusCancelled, decodeBody[CancelResponse](t, w).Status)

	close(release)
	run, _ := svc.Run(id)
	waitDone(t, run)
	assert.ErrorContains(t, run.Err(), "cancelled")
}

func TestHandlers_GraphEndpoints(t *testing.T) {
	src := writeSource(t)
	docs := filepath.Join(t.TempDir(), "docs")
	svc := newTestService(t, llmtest.New(testResponse), nil)
	router := setupTestRouter(svc)
	startAndWait(t, svc, router, StartRequest{SourcePath: src, DocsPath: docs})

	w := doJSON(t, router, http.MethodPost, "/v1/docgen/graph", GraphRequest{DocsPath: docs})
	require.Equal(t, http.StatusOK, w.Code)
	pg := decodeBody[graph.ProjectGraph](t, w)
	assert.Equal(t, 3, pg.FileCount)
	assert.NotEmpty(t, pg.Edges)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/file-graph", FileGraphRequest{DocsPath: docs, FilePath: "main.py"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file::main.py", decodeBody[graph.FileGraph](t, w).FileID)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/dir-graph", DirGraphRequest{DocsPath: docs, DirPath: "pkg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dir::pkg", decodeBody[graph.DirGraph](t, w).DirID)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/file-graph", FileGraphRequest{DocsPath: docs, FilePath: "../../etc/passwd"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PATH", decodeBody[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/graph", GraphRequest{DocsPath: t.TempDir()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "GRAPH_NOT_FOUND", decodeBody[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/docgen/graph", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_ProgressStream(t *testing.T) {
	src := writeSource(t)
	svc := newTestService(t, llmtest.New(testResponse), nil)
	router := setupTestRouter(svc)
	started := startAndWait(t, svc, router, StartRequest{SourcePath: src})

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/docgen/ws/" + started.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var events []progress.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		e, err := progress.Decode(data)
		require.NoError(t, err)
		events = append(events, e)
	}

	require.NotEmpty(t, events)
	assert.IsType(t, progress.Progress{}, events[0])
	assert.IsType(t, progress.Completed{}, events[len(events)-1])

	var files int
	for _, e := range events {
		if _, ok := e.(progress.FileCompleted); ok {
			files++
		}
	}
	assert.Equal(t, 3, files)
	assert.Zero(t, svc.ActiveRuns())
}

func TestHandlers_ProgressStreamUnknownRun(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil, nil))
	w := doJSON(t, router, http.MethodGet, "/v1/docgen/ws/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
