package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/dsl"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 Workflow Handler
// =============================================================================

// WorkflowHandler 编译与执行工作流
type WorkflowHandler struct {
	compiler *workflow.Compiler
	engine   *workflow.Engine
	logger   *zap.Logger
}

// CompileRequest 编译/执行请求。
// 可直接给出 nodes/edges，也可以给出 DSL 源文本（source + format）。
type CompileRequest struct {
	Name      string          `json:"name,omitempty"`
	Nodes     []workflow.Node `json:"nodes,omitempty"`
	Edges     []workflow.Edge `json:"edges,omitempty"`
	Source    string          `json:"source,omitempty"`
	Format    string          `json:"format,omitempty"` // yaml, json, hcl
	Variables map[string]any  `json:"variables,omitempty"`
}

// CompileResponse 编译结果
type CompileResponse struct {
	Valid      bool                         `json:"valid"`
	Definition *workflow.WorkflowDefinition `json:"definition"`
}

// RunResponse 执行结果
type RunResponse struct {
	RunID          string                `json:"run_id"`
	WorkflowID     string                `json:"workflow_id"`
	ExecutionOrder []string              `json:"execution_order"`
	Snapshot       *workflow.RunSnapshot `json:"snapshot"`
}

// NewWorkflowHandler 创建 Workflow handler
func NewWorkflowHandler(compiler *workflow.Compiler, engine *workflow.Engine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compiler == nil {
		compiler = workflow.NewCompiler(workflow.WithCompilerLogger(logger))
	}
	return &WorkflowHandler{
		compiler: compiler,
		engine:   engine,
		logger:   logger.With(zap.String("handler", "workflow")),
	}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleCompile 编译工作流，结构错误随定义一并返回
// @Summary Compile workflow
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body CompileRequest true "Workflow graph"
// @Success 200 {object} Response{data=CompileResponse} "Compiled definition"
// @Failure 400 {object} Response "Invalid request"
// @Security ApiKeyAuth
// @Router /api/v1/workflows/compile [post]
func (h *WorkflowHandler) HandleCompile(w http.ResponseWriter, r *http.Request) {
	def, ok := h.compileRequest(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, CompileResponse{Valid: def.Valid(), Definition: def})
}

// HandleRun 编译并启动工作流。?wait=true 时阻塞直到运行结束
// @Summary Run workflow
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body CompileRequest true "Workflow graph"
// @Param wait query bool false "Block until the run finishes"
// @Success 200 {object} Response{data=RunResponse} "Finished run"
// @Success 202 {object} Response{data=RunResponse} "Run started"
// @Failure 422 {object} Response "Workflow has structural errors"
// @Security ApiKeyAuth
// @Router /api/v1/workflows/run [post]
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	def, ok := h.compileRequest(w, r)
	if !ok {
		return
	}

	// 运行生命周期独立于请求；保留请求中的 request id 与 trace
	run, err := h.engine.Start(context.WithoutCancel(r.Context()), def)
	if err != nil {
		if e, ok := types.AsError(err); ok && e.Code == types.ErrGraphInvalid {
			WriteErrorWithDetails(w, e, def.Errors, h.logger)
			return
		}
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow run started",
		zap.String("run_id", run.ID()),
		zap.String("workflow_id", def.ID),
		zap.Int("nodes", len(def.Nodes)),
	)

	resp := RunResponse{
		RunID:          run.ID(),
		WorkflowID:     def.ID,
		ExecutionOrder: def.ExecutionOrder,
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-run.Done():
			resp.Snapshot = run.Snapshot()
			WriteSuccess(w, resp)
		case <-r.Context().Done():
			// 客户端断开，运行继续
		}
		return
	}

	resp.Snapshot = run.Snapshot()
	WriteData(w, http.StatusAccepted, resp)
}

// HandleGetRun 返回运行快照
// @Summary Get run
// @Tags workflow
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=workflow.RunSnapshot} "Run snapshot"
// @Failure 404 {object} Response "Run not found"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id} [get]
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, run.Snapshot())
}

// HandleCancelRun 取消运行；已完成的节点结果保留
// @Summary Cancel run
// @Tags workflow
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} Response{data=workflow.RunSnapshot} "Cancellation requested"
// @Failure 404 {object} Response "Run not found"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id}/cancel [post]
func (h *WorkflowHandler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	run.Cancel()
	h.logger.Info("workflow run cancel requested", zap.String("run_id", run.ID()))
	WriteData(w, http.StatusAccepted, run.Snapshot())
}

// HandleListRuns 按 workflow_id 或 status 列出执行历史
// @Summary List runs
// @Tags workflow
// @Produce json
// @Param workflow_id query string false "Workflow definition ID"
// @Param status query string false "Run status"
// @Success 200 {object} Response{data=[]workflow.ExecutionHistory} "Run histories"
// @Security ApiKeyAuth
// @Router /api/v1/runs [get]
func (h *WorkflowHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	store := h.engine.History()
	q := r.URL.Query()

	var histories []*workflow.ExecutionHistory
	switch {
	case q.Get("workflow_id") != "":
		histories = store.ListByWorkflow(q.Get("workflow_id"))
	case q.Get("status") != "":
		histories = store.ListByStatus(workflow.RunStatus(q.Get("status")))
	default:
		histories = store.ListByStatus(workflow.RunStatusRunning)
		for _, s := range []workflow.RunStatus{workflow.RunStatusCompleted, workflow.RunStatusFailed, workflow.RunStatusCancelled} {
			histories = append(histories, store.ListByStatus(s)...)
		}
	}
	if histories == nil {
		histories = []*workflow.ExecutionHistory{}
	}
	WriteSuccess(w, histories)
}

// HandleRunHistory 返回单次运行的执行历史
// @Summary Run history
// @Tags workflow
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=workflow.ExecutionHistory} "Run history"
// @Failure 404 {object} Response "Run not found"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id}/history [get]
func (h *WorkflowHandler) HandleRunHistory(w http.ResponseWriter, r *http.Request) {
	id := extractRunID(r)
	history, ok := h.engine.History().Get(id)
	if !ok {
		WriteError(w, types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %q not found", id)), h.logger)
		return
	}
	WriteSuccess(w, history)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *WorkflowHandler) compileRequest(w http.ResponseWriter, r *http.Request) (*workflow.WorkflowDefinition, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}
	var req CompileRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	doc, err := req.Document()
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err), h.logger)
		return nil, false
	}
	return doc.Compile(h.compiler), true
}

// Document 将请求转换为工作流文档
func (req *CompileRequest) Document() (*workflow.Document, error) {
	if req.Source == "" {
		if len(req.Variables) > 0 {
			return nil, fmt.Errorf("variables require a DSL source")
		}
		doc := &workflow.Document{Name: req.Name, Nodes: req.Nodes, Edges: req.Edges}
		if err := doc.Check(); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if len(req.Nodes) > 0 || len(req.Edges) > 0 {
		return nil, fmt.Errorf("source and nodes/edges are mutually exclusive")
	}

	parser := dsl.NewParser(dsl.WithVariables(req.Variables))
	src := []byte(req.Source)
	switch strings.ToLower(req.Format) {
	case "", "yaml", "yml":
		return parser.Parse(src)
	case "json":
		return parser.ParseJSON(src)
	case "hcl":
		return parser.ParseHCL(src, "request.hcl")
	default:
		return nil, fmt.Errorf("unsupported format %q", req.Format)
	}
}

func (h *WorkflowHandler) lookupRun(w http.ResponseWriter, r *http.Request) (*workflow.Run, bool) {
	return lookupRun(h.engine, w, r, h.logger)
}

func lookupRun(engine *workflow.Engine, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*workflow.Run, bool) {
	id := extractRunID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", logger)
		return nil, false
	}
	run, ok := engine.Lookup(id)
	if !ok {
		WriteError(w, types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %q not found", id)), logger)
		return nil, false
	}
	return run, true
}

// extractRunID 从 /api/v1/runs/{id}[/...] 中提取运行 ID
func extractRunID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if rest == r.URL.Path || rest == "" {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
