// =============================================================================
// nodeflow 主入口
// =============================================================================
// 工作流服务入口点，包含 HTTP API、事件推送、健康检查、Prometheus 指标
//
// 使用方法:
//
//	nodeflow serve                        # 启动服务
//	nodeflow serve --config config.yaml   # 指定配置文件
//	nodeflow compile flow.yaml            # 编译工作流并输出定义
//	nodeflow run --preview flow.hcl       # 本地执行工作流
//	nodeflow version                      # 显示版本信息
//	nodeflow health                       # 健康检查
// =============================================================================

// @title nodeflow API
// @version 1.0.0
// @description nodeflow compiles node graphs of AI steps into workflow definitions and executes them.
// @description
// @description ## Features
// @description - Graph validation with per-handle contracts
// @description - Concurrent dependency-ordered execution
// @description - Run events over WebSocket or SSE
// @description - Health monitoring and metrics

// @contact.name nodeflow Team
// @contact.url https://github.com/BaSui01/nodeflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/telemetry"
	"github.com/BaSui01/nodeflow/llm/providers/openaicompat"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/dsl"
	"github.com/BaSui01/nodeflow/workflow/nodes"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "compile":
		os.Exit(runCompile(os.Args[2:], os.Stdout, os.Stderr))
	case "run":
		os.Exit(runWorkflow(os.Args[2:], os.Stdout, os.Stderr))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting nodeflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, *configPath, logger, level, otelProviders)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.WaitForShutdown(ctx)

	logger.Info("nodeflow stopped")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🧩 compile / run 命令
// =============================================================================

// varFlags 收集重复的 --var name=value
type varFlags map[string]any

func (v varFlags) String() string { return fmt.Sprint(map[string]any(v)) }

func (v varFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[name] = value
	return nil
}

func runCompile(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("output", "json", "Output format: json or yaml")
	vars := varFlags{}
	fs.Var(vars, "var", "Variable override name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: nodeflow compile [--output json|yaml] [--var k=v] <file>")
		return 2
	}

	doc, err := dsl.NewParser(dsl.WithVariables(vars)).ParseFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "parse failed: %v\n", err)
		return 1
	}
	def := doc.Compile(workflow.NewCompiler())

	if err := writeOutput(stdout, *output, def); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if !def.Valid() {
		for _, e := range def.Errors {
			fmt.Fprintf(stderr, "%s: %s\n", e.Type, e.Message)
		}
		return 1
	}
	return 0
}

func runWorkflow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (LLM settings)")
	preview := fs.Bool("preview", false, "Use preview processors instead of calling a model")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall run timeout")
	output := fs.String("output", "json", "Output format: json or yaml")
	vars := varFlags{}
	fs.Var(vars, "var", "Variable override name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: nodeflow run [--preview] [--config path] [--var k=v] <file>")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	logger, _ := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	defer logger.Sync()

	doc, err := dsl.NewParser(dsl.WithVariables(vars)).ParseFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "parse failed: %v\n", err)
		return 1
	}
	def := doc.Compile(workflow.NewCompiler(workflow.WithCompilerLogger(logger)))
	if !def.Valid() {
		for _, e := range def.Errors {
			fmt.Fprintf(stderr, "%s: %s\n", e.Type, e.Message)
		}
		return 1
	}

	processors := nodes.PreviewProcessors()
	if !*preview && !cfg.Engine.Preview && cfg.LLM.Configured() {
		provider, err := openaicompat.New(openaicompat.Config{
			ProviderName: cfg.LLM.ProviderName,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
			CAFile:       cfg.LLM.CAFile,
		}, logger)
		if err != nil {
			fmt.Fprintf(stderr, "LLM provider: %v\n", err)
			return 1
		}
		processors = nodes.ServerProcessors(nodes.NewLLMGenerator(provider,
			nodes.WithDefaultModel(cfg.LLM.Model),
			nodes.WithGeneratorLogger(logger),
		))
	}

	engine := workflow.NewEngine(processors,
		workflow.WithEngineLogger(logger),
		workflow.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		workflow.WithNodeTimeout(cfg.Engine.NodeTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	snapshot, err := engine.Run(ctx, def)
	if err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	if err := writeOutput(stdout, *output, snapshot); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if snapshot.Status != workflow.RunStatusCompleted {
		return 1
	}
	return 0
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("nodeflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`nodeflow - AI node workflow engine

Usage:
  nodeflow <command> [options]

Commands:
  serve     Start the nodeflow server
  compile   Compile a workflow file and print its definition
  run       Execute a workflow file locally and print the run snapshot
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'compile' and 'run':
  --output json|yaml   Output format (default json)
  --var name=value     Override a workflow variable (repeatable)
  --preview            (run) Use preview processors, no model calls
  --config <path>      (run) Configuration file with LLM settings
  --timeout <dur>      (run) Overall run timeout (default 5m)

Examples:
  nodeflow serve --config /etc/nodeflow/config.yaml
  nodeflow compile --output yaml flow.hcl
  nodeflow run --preview --var name=Ada flow.yaml
  nodeflow health --addr http://localhost:8080
  nodeflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 构建 logger，返回的 AtomicLevel 可在热更新时调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             atomicLevel,
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger, atomicLevel
}
