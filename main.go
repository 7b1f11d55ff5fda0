package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
	"github.com/artifact-vault/artifact-vault/internal/logging"
	"github.com/artifact-vault/artifact-vault/internal/server"
	"github.com/artifact-vault/artifact-vault/internal/vault"
	"github.com/artifact-vault/artifact-vault/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["backends"] = len(cfg.Backends)
		fields["credentials"] = config.CredentialModes(cfg.Backends)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → resolver 分发器 → Fiber server”顺序，
	// 保证所有请求共享统一的缓存实例。
	store, err := cache.NewStore(cfg.Global.CacheDir)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	dispatcher, err := server.BuildDispatcher(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 backend 失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["backends"] = len(cfg.Backends)
	fields["listen"] = fmt.Sprintf("%s:%d", cfg.Global.HTTPHost, cfg.Global.HTTPPort)
	fields["cache_dir"] = cfg.Global.CacheDir
	fields["credentials"] = config.CredentialModes(cfg.Backends)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, dispatcher, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("artifact-vault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.yaml，可被 ARTIFACT_VAULT_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ARTIFACT_VAULT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.yaml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, dispatcher *vault.Dispatcher, logger *logrus.Logger) error {
	port := cfg.Global.HTTPPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Dispatcher: dispatcher,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"host":   cfg.Global.HTTPHost,
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf("%s:%d", cfg.Global.HTTPHost, port))
}
