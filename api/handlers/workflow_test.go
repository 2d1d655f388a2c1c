package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

const chainJSON = `{
  "name": "greeting",
  "nodes": [
    {"id": "A", "type": "text-input", "config": {"value": "Ada"}},
    {"id": "B", "type": "prompt-crafter", "config": {"template": "Hello {{name}}"},
     "dynamicHandles": {"template-tags": [{"id": "t1", "name": "name"}]}},
    {"id": "C", "type": "generate-text"}
  ],
  "edges": [
    {"id": "e1", "source": "A", "sourceHandle": "output", "target": "B", "targetHandle": "t1"},
    {"id": "e2", "source": "B", "sourceHandle": "output", "target": "C", "targetHandle": "prompt"}
  ]
}`

const cycleJSON = `{
  "nodes": [
    {"id": "X", "type": "prompt-crafter", "config": {"template": "{{a}}"},
     "dynamicHandles": {"template-tags": [{"id": "a", "name": "a"}]}},
    {"id": "Y", "type": "prompt-crafter", "config": {"template": "{{b}}"},
     "dynamicHandles": {"template-tags": [{"id": "b", "name": "b"}]}}
  ],
  "edges": [
    {"id": "e1", "source": "X", "sourceHandle": "output", "target": "Y", "targetHandle": "b"},
    {"id": "e2", "source": "Y", "sourceHandle": "output", "target": "X", "targetHandle": "a"}
  ]
}`

type testAPI struct {
	mux    *http.ServeMux
	engine *workflow.Engine
}

func newTestAPI(t *testing.T, processors *workflow.ProcessorRegistry) *testAPI {
	t.Helper()
	if processors == nil {
		processors = nodes.PreviewProcessors()
	}
	logger := zap.NewNop()
	engine := workflow.NewEngine(processors, workflow.WithEngineLogger(logger))
	wf := NewWorkflowHandler(workflow.NewCompiler(), engine, logger)
	ev := NewEventsHandler(engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows/compile", wf.HandleCompile)
	mux.HandleFunc("POST /api/v1/workflows/run", wf.HandleRun)
	mux.HandleFunc("GET /api/v1/runs", wf.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", wf.HandleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", wf.HandleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/history", wf.HandleRunHistory)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", ev.HandleRunEvents)
	return &testAPI{mux: mux, engine: engine}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	return w
}

// decodeData 解码 Response.data 到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}

// blockingProcessors 让 text-input 阻塞到 ctx 结束
func blockingProcessors(started chan<- struct{}) *workflow.ProcessorRegistry {
	r := nodes.PreviewProcessors().Clone()
	_ = r.RegisterFunc(workflow.NodeTypeTextInput, func(ctx context.Context, _ workflow.Node, _ workflow.TargetsData) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	return r
}

// =============================================================================
// 🧪 Compile
// =============================================================================

func TestWorkflowHandler_Compile(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/compile", chainJSON)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompileResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Valid)
	require.NotNil(t, resp.Definition)
	assert.Equal(t, []string{"A", "B", "C"}, resp.Definition.ExecutionOrder)
	assert.NotEmpty(t, resp.Definition.ID)
}

func TestWorkflowHandler_CompileInvalidGraphStillSucceeds(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/compile", cycleJSON)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompileResponse
	decodeData(t, w, &resp)
	assert.False(t, resp.Valid)
	assert.Empty(t, resp.Definition.ExecutionOrder)
	require.Len(t, resp.Definition.Errors, 1)
	assert.Equal(t, workflow.ErrorCycle, resp.Definition.Errors[0].Type)
}

func TestWorkflowHandler_CompileFromDSL(t *testing.T) {
	api := newTestAPI(t, nil)

	source := "version: \"1\"\nname: dsl\nvariables:\n  who:\n    type: string\n    default: world\n" +
		"nodes:\n  - id: A\n    type: text-input\n    config:\n      value: \"Hello ${who}\"\n" +
		"  - id: V\n    type: visualize-text\n" +
		"edges:\n  - source: A\n    source_handle: output\n    target: V\n    target_handle: input\n"
	body, err := json.Marshal(CompileRequest{Source: source, Format: "yaml", Variables: map[string]any{"who": "Ada"}})
	require.NoError(t, err)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/compile", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompileResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Valid)
	node, ok := resp.Definition.Node("A")
	require.True(t, ok)
	assert.Equal(t, "Hello Ada", node.Config["value"])
}

func TestWorkflowHandler_CompileBadRequests(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "malformed json", body: `{"nodes": [`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"graph": {}}`, wantStatus: http.StatusBadRequest},
		{name: "node without type", body: `{"nodes": [{"id": "A"}]}`, wantStatus: http.StatusBadRequest},
		{name: "source and nodes", body: `{"source": "nodes: []", "nodes": [{"id": "A", "type": "text-input"}]}`, wantStatus: http.StatusBadRequest},
		{name: "unsupported format", body: `{"source": "x", "format": "toml"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/workflows/compile", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			resp := decodeData(t, w, nil)
			assert.False(t, resp.Success)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
}

func TestWorkflowHandler_CompileRequiresJSONContentType(t *testing.T) {
	api := newTestAPI(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/compile", bytes.NewBufferString(chainJSON))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	api.mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

// =============================================================================
// 🧪 Run
// =============================================================================

func TestWorkflowHandler_RunAndWait(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/run?wait=true", chainJSON)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	decodeData(t, w, &resp)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, workflow.RunStatusCompleted, resp.Snapshot.Status)
	assert.Equal(t, "Hello Ada", resp.Snapshot.Nodes["B"].Result)
	assert.Equal(t, workflow.NodeStatusSuccess, resp.Snapshot.Nodes["C"].Status)
	assert.Equal(t, []string{"A", "B", "C"}, resp.ExecutionOrder)
}

func TestWorkflowHandler_RunInvalidGraph(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/run", cycleJSON)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decodeData(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrGraphInvalid), resp.Error.Code)
	details, ok := resp.Error.Details.([]any)
	require.True(t, ok)
	assert.Len(t, details, 1)
}

func TestWorkflowHandler_RunAsyncThenGetAndHistory(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/workflows/run", chainJSON)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started RunResponse
	decodeData(t, w, &started)
	require.NotEmpty(t, started.RunID)

	run, ok := api.engine.Lookup(started.RunID)
	require.True(t, ok)
	<-run.Done()

	w = api.do(t, http.MethodGet, "/api/v1/runs/"+started.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap workflow.RunSnapshot
	decodeData(t, w, &snap)
	assert.Equal(t, workflow.RunStatusCompleted, snap.Status)
	assert.Equal(t, started.WorkflowID, snap.WorkflowID)

	w = api.do(t, http.MethodGet, "/api/v1/runs/"+started.RunID+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history map[string]any
	decodeData(t, w, &history)
	assert.Equal(t, "completed", history["status"])
	assert.Len(t, history["nodes"], 3)

	w = api.do(t, http.MethodGet, "/api/v1/runs?workflow_id="+started.WorkflowID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	decodeData(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, started.RunID, list[0]["run_id"])
}

func TestWorkflowHandler_ListRunsEmpty(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/runs?status=failed", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	decodeData(t, w, &list)
	assert.Empty(t, list)
}

func TestWorkflowHandler_RunNotFound(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, path := range []string{"/api/v1/runs/nope", "/api/v1/runs/nope/history"} {
		w := api.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		resp := decodeData(t, w, nil)
		assert.Equal(t, string(types.ErrRunNotFound), resp.Error.Code)
	}

	w := api.do(t, http.MethodPost, "/api/v1/runs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_CancelRun(t *testing.T) {
	started := make(chan struct{})
	api := newTestAPI(t, blockingProcessors(started))

	w := api.do(t, http.MethodPost, "/api/v1/workflows/run", chainJSON)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp RunResponse
	decodeData(t, w, &resp)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("text-input never started")
	}

	w = api.do(t, http.MethodPost, "/api/v1/runs/"+resp.RunID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	run, ok := api.engine.Lookup(resp.RunID)
	require.True(t, ok)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}
	snap := run.Snapshot()
	assert.Contains(t, []workflow.RunStatus{workflow.RunStatusCancelled, workflow.RunStatusFailed}, snap.Status)
	assert.NotEqual(t, workflow.NodeStatusSuccess, snap.Nodes["C"].Status)
}

func TestWorkflowHandler_RunOutlivesRequest(t *testing.T) {
	api := newTestAPI(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/run", bytes.NewBufferString(chainJSON)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.mux.ServeHTTP(w, r)
	cancel()

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp RunResponse
	decodeData(t, w, &resp)

	run, ok := api.engine.Lookup(resp.RunID)
	require.True(t, ok)
	assert.Equal(t, workflow.RunStatusCompleted, run.Wait().Status)
}

func TestExtractRunID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/runs/abc", "abc"},
		{"/api/v1/runs/abc/events", "abc"},
		{"/api/v1/runs/", ""},
		{"/other/abc", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		assert.Equal(t, tt.want, extractRunID(r), tt.path)
	}
}
