// =============================================================================
// MeetingFlow 主入口
// =============================================================================
// 会议助手服务：WebSocket 音频接入、说话人身份对齐、出勤与 TTS 广播
//
// 使用方法:
//
//	meetingflow serve                       # 启动服务
//	meetingflow serve --config config.yaml  # 指定配置文件
//	meetingflow version                     # 显示版本信息
//	meetingflow health --ready              # 探测运行中的实例
//	meetingflow migrate up                  # 运行数据库迁移
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/meetingflow/config"
	"github.com/BaSui01/meetingflow/internal/telemetry"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// command 是一个子命令，run 返回的错误决定退出码
type command struct {
	name    string
	summary string
	run     func(args []string) error
}

func commands() []command {
	return []command{
		{"serve", "Start the MeetingFlow server", runServe},
		{"migrate", "Database migration commands (see 'migrate help')", runMigrate},
		{"health", "Probe a running server", runHealthCheck},
		{"version", "Show version information", func([]string) error {
			printVersion(os.Stdout)
			return nil
		}},
	}
}

// errUsage 表示参数错误，已打印用法
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run 分发子命令并返回进程退出码
func run(args []string, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return 0
	}
	for _, c := range commands() {
		if c.name != name {
			continue
		}
		if err := c.run(args[1:]); err != nil {
			if !errors.Is(err, errUsage) {
				fmt.Fprintf(stderr, "meetingflow %s: %v\n", name, err)
			}
			return 1
		}
		return 0
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n", name)
	printUsage(stderr)
	return 2
}

// loadConfig 读取 .env（可选）、YAML 与环境变量并校验
func loadConfig(configPath, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	return loader.Load()
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	envFile := fs.String("env", ".env", "Path to .env file (ignored if missing)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting MeetingFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 遥测失败不阻止启动
	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("telemetry unavailable", zap.Error(err))
	}

	srv, err := NewServer(cfg, logger, providers)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("start server: %w", err)
	}

	srv.WaitForShutdown()
	logger.Info("MeetingFlow stopped")
	return nil
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server base URL")
	ready := fs.Bool("ready", false, "Probe /ready instead of /health")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := probe(ctx, http.DefaultClient, *addr, *ready); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

// probe 请求 /health 或 /ready，非 200 视为失败
func probe(ctx context.Context, client *http.Client, addr string, ready bool) error {
	path := "/health"
	if ready {
		path = "/ready"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MeetingFlow %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "MeetingFlow - meeting assistant server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:\n  meetingflow <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, `
Examples:
  meetingflow serve --config /etc/meetingflow/config.yaml
  meetingflow migrate up
  meetingflow health --addr http://localhost:8080 --ready`)
}

// =============================================================================
// 🔧 日志
// =============================================================================

// encoderConfig console 格式带颜色，其余格式按 JSON 输出 ISO8601 时间
func encoderConfig(format string) (string, zapcore.EncoderConfig) {
	if format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return "console", ec
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return "json", ec
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	encoding, ec := encoderConfig(cfg.Format)

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	logger, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     ec,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}.Build()
	if err != nil {
		return zap.Must(zap.NewProduction())
	}
	return logger
}
