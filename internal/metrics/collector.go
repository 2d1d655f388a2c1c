// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
//
// It implements workflow.CompileObserver, workflow.RunObserver and
// nodes.GenerationObserver so it can be handed straight to the compiler,
// the engine and the text generator.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 编译指标
	compilesTotal   *prometheus.CounterVec
	compileDuration prometheus.Histogram
	compileErrors   *prometheus.CounterVec
	compileNodes    prometheus.Histogram

	// 运行指标
	runsActive   prometheus.Gauge
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到 reg
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 编译指标
	c.compilesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_compiles_total",
			Help:      "Total number of workflow compilations",
		},
		[]string{"result"}, // valid, invalid
	)

	c.compileDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_compile_duration_seconds",
			Help:      "Workflow compilation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	c.compileErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_compile_errors_total",
			Help:      "Structural errors found while compiling workflows",
		},
		[]string{"type"},
	)

	c.compileNodes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_compile_nodes",
			Help:      "Number of nodes per compiled workflow",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// 运行指标
	c.runsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_runs_active",
			Help:      "Number of workflow runs currently executing",
		},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	c.nodesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_nodes_total",
			Help:      "Total number of node outcomes",
		},
		[]string{"node_type", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Node processor duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧩 工作流指标记录
// =============================================================================

// ObserveCompile implements workflow.CompileObserver.
func (c *Collector) ObserveCompile(nodes, _ int, errs []workflow.WorkflowError, duration time.Duration) {
	result := "valid"
	if len(errs) > 0 {
		result = "invalid"
	}
	c.compilesTotal.WithLabelValues(result).Inc()
	c.compileDuration.Observe(duration.Seconds())
	c.compileNodes.Observe(float64(nodes))
	for _, e := range errs {
		c.compileErrors.WithLabelValues(string(e.Type)).Inc()
	}
}

// ObserveRunStart implements workflow.RunObserver.
func (c *Collector) ObserveRunStart() {
	c.runsActive.Inc()
}

// ObserveRun implements workflow.RunObserver.
func (c *Collector) ObserveRun(status workflow.RunStatus, duration time.Duration) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ObserveNode implements workflow.RunObserver. Nodes that never ran
// (cancelled or blocked upstream) are counted without a duration sample.
func (c *Collector) ObserveNode(nodeType workflow.NodeType, status workflow.NodeStatus, duration time.Duration) {
	c.nodesTotal.WithLabelValues(string(nodeType), string(status)).Inc()
	if duration > 0 {
		c.nodeDuration.WithLabelValues(string(nodeType)).Observe(duration.Seconds())
	}
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// ObserveGeneration implements nodes.GenerationObserver.
func (c *Collector) ObserveGeneration(provider, model, status string, duration time.Duration, usage llm.ChatUsage) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown_" + strconv.Itoa(code)
	}
}
