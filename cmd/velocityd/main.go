package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"VelocityVault/internal/agent"
	"VelocityVault/internal/api"
	"VelocityVault/internal/chain"
	"VelocityVault/internal/clearnode"
	"VelocityVault/internal/config"
	"VelocityVault/internal/ens"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/intent"
	"VelocityVault/internal/observability/alerting"
	"VelocityVault/internal/observability/metrics"
	"VelocityVault/internal/portfolio"
	"VelocityVault/internal/routing"
	"VelocityVault/internal/storage/mysql"
	"VelocityVault/internal/vault"
	"VelocityVault/pkg/logger"
)

// main 是 VelocityVault 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("velocityd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("velocityd")

	portfolioStore, err := openPortfolioStore(ctx, cfg.Storage.Portfolio)
	if err != nil {
		return err
	}
	defer portfolioStore.Close()

	registry, err := openRegistry(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer registry.Close()

	svcOpts := []portfolio.Option{}
	if capital, err := decimal.NewFromString(cfg.ENS.InitialCapital); err == nil {
		svcOpts = append(svcOpts, portfolio.WithInitialCapital(capital))
	}
	ensClient, closeENS, err := openENS(ctx, cfg.ENS)
	if err != nil {
		return err
	}
	defer closeENS()
	if ensClient != nil {
		svcOpts = append(svcOpts, portfolio.WithENS(ensClient))
	} else {
		lg.Warn("未配置 ENS，声誉记录读写不可用")
	}
	portfolioSvc := portfolio.NewService(portfolioStore, svcOpts...)

	intentStore, err := openIntentStore(ctx, cfg.Storage.Intents)
	if err != nil {
		return err
	}
	queue, err := intent.NewQueue(ctx, cfg.Queue)
	if err != nil {
		_ = intentStore.Close()
		return err
	}
	intentSvc := intent.NewService(intentStore, queue, cfg.Agent.MaxRetries)
	defer func() {
		if err := intentSvc.Close(); err != nil {
			lg.Warn("关闭意图队列失败", slog.Any("error", err))
		}
	}()

	var wallet *clearnode.KeySigner
	destination := common.HexToAddress(cfg.Clearnode.TransferDestination)
	if cfg.Chain.AgentPrivateKey != "" {
		wallet, err = clearnode.NewKeySigner(cfg.Chain.AgentPrivateKey)
		if err != nil {
			return err
		}
		defer wallet.Zero()
		destination = wallet.Address()
	}

	v, err := openVault(ctx, cfg.Chain, registry)
	if err != nil {
		return err
	}
	executor := agent.New(v, routing.NewClient(routing.ConfigFrom(cfg.Routing)), agent.ConfigFrom(cfg, destination),
		agent.WithRecorder(portfolioSvc),
		agent.WithStepTimeout(cfg.Routing.Timeout()*2),
	)

	alerter := alerting.NewFanout(alerting.LogNotifier{}, alerting.NewWebhookNotifier(cfg.Agent.AlertWebhookURL))
	processor := intent.NewProcessor(executor, intentStore, queue, queue,
		intent.WithWorkerCount(cfg.Agent.Workers),
		intent.WithAlertDispatcher(alerter),
	)

	serverOpts := []api.Option{api.WithIntents(intentSvc)}
	if cfg.Observability.MetricsEnabled && cfg.Observability.MetricsAddress == "" {
		serverOpts = append(serverOpts, api.WithMetrics(cfg.Observability.MetricsPath))
	}
	server := api.NewServer(cfg.Server, portfolioSvc, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Observability.MetricsEnabled && cfg.Observability.MetricsAddress != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Observability.MetricsAddress, cfg.Observability.MetricsPath)
		})
	}
	if cfg.Monitor.Enabled {
		session := clearnode.NewSession(clearnode.ConfigFrom(cfg.Clearnode))
		var signer clearnode.Signer
		if wallet != nil {
			signer = wallet
		}
		monitor, err := clearnode.NewMonitor(session, signer, intentSvc, clearnode.MonitorOptions{
			Backoff:        clearnode.BackoffFrom(cfg.Monitor),
			HealthInterval: cfg.Agent.HealthInterval(),
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return monitor.Run(gctx) })
	}

	lg.Info("velocityd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("queue", cfg.Queue.Driver),
		slog.Bool("monitor", cfg.Monitor.Enabled),
	)
	return g.Wait()
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("VELOCITY_CONFIG")
	if path == "" {
		path = filepath.Join("configs", "velocityvault.json")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.AuditPath != "",
			Path:       cfg.AuditPath,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
	}
}

func openPortfolioStore(ctx context.Context, cfg config.StoreConfig) (portfolio.Store, error) {
	switch cfg.Driver {
	case "mysql":
		return mysql.NewPortfolioStore(ctx, mysql.ConfigFrom(cfg))
	default:
		return portfolio.NewMemoryStore(), nil
	}
}

func openIntentStore(ctx context.Context, cfg config.StoreConfig) (intent.Store, error) {
	switch cfg.Driver {
	case "mysql":
		return intent.NewMySQLStore(ctx, mysql.ConfigFrom(cfg))
	default:
		return intent.NewMemoryStore(), nil
	}
}

// openRegistry 在未配置任何 RPC 时返回 nil，调用方回退到模拟金库。
func openRegistry(ctx context.Context, cfg config.ChainConfig) (*chain.Registry, error) {
	registry, err := chain.NewRegistry(ctx, cfg)
	if xerrors.CodeOf(err) == xerrors.CodeNotConfigured {
		return nil, nil
	}
	return registry, err
}

func openVault(ctx context.Context, cfg config.ChainConfig, registry *chain.Registry) (vault.Agent, error) {
	lg := logger.Named("velocityd")
	address := cfg.VaultAddress
	if registry != nil && address == "" {
		if def, ok := registry.Definition(registry.DefaultName()); ok {
			address = def.VaultAddress
		}
	}
	if registry == nil || address == "" || cfg.AgentPrivateKey == "" {
		lg.Warn("未配置金库合约或代理私钥，使用模拟金库")
		return vault.NewSimulated(), nil
	}
	client, err := registry.DefaultClient()
	if err != nil {
		return nil, err
	}
	opts, err := client.Transactor(ctx, cfg.AgentPrivateKey)
	if err != nil {
		return nil, err
	}
	v, err := vault.New(address, client.Backend(), opts)
	if err != nil {
		return nil, err
	}
	lg.Info("已连接金库合约", slog.String("chain", client.Name()), slog.String("vault", v.Address().Hex()))
	return v, nil
}

// openENS 返回 nil 客户端表示 ENS 未配置。
func openENS(ctx context.Context, cfg config.ENSConfig) (portfolio.ENSClient, func(), error) {
	noop := func() {}
	if cfg.RPCURL == "" || cfg.ResolverAddress == "" {
		return nil, noop, nil
	}
	client, err := chain.NewClient(ctx, chain.Config{Name: "ens", RPCURL: cfg.RPCURL})
	if err != nil {
		return nil, noop, err
	}
	var opts *bind.TransactOpts
	if cfg.PrivateKey != "" {
		opts, err = client.Transactor(ctx, cfg.PrivateKey)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
	}
	resolver, err := ens.NewResolver(cfg.ResolverAddress, client.Backend(), opts,
		ens.WithWaiter(client),
		ens.WithClock(time.Now),
	)
	if err != nil {
		client.Close()
		return nil, noop, err
	}
	return resolver, client.Close, nil
}
