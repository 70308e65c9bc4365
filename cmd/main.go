package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tensorgrid/deploy-backend/internal/config"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/chain"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/events"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/postgres/connection"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/postgres/repositories"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/redis"
	"github.com/tensorgrid/deploy-backend/pkg/interfaces/api/routes"
	"github.com/tensorgrid/deploy-backend/pkg/interfaces/api/servers"
	"github.com/tensorgrid/deploy-backend/pkg/manifest"
	"github.com/tensorgrid/deploy-backend/pkg/orchestrator"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
	"github.com/tensorgrid/deploy-backend/pkg/providers/chainmarket"
	"github.com/tensorgrid/deploy-backend/pkg/providers/cloudpool"
	"github.com/tensorgrid/deploy-backend/pkg/taskmanager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	provisionWorkers   = 16
	provisionQueueSize = 256
	statusPollInterval = 30 * time.Second
	capabilityCacheTTL = 5 * time.Minute
	certWatchInterval  = time.Hour
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	// Load .env file if it exists (optional for Docker runtime)
	if err := godotenv.Load(".env"); err != nil {
		logger.Infof("No .env file found, using environment variables: %s", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	db, err := connection.Connect(cfg.Postgres)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}

	cache, err := redis.NewCache(cfg.Redis, capabilityCacheTTL)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if cache == nil {
		logger.Info("redis not configured, running without capability cache")
	}

	signer, err := chain.NewSigner(cfg.Wallet.PrivateKey, cfg.Wallet.ChainID)
	if err != nil {
		logger.Fatal("Failed to load wallet key", zap.Error(err))
	}
	logger.Info("wallet loaded", zap.String("address", signer.Address().Hex()))

	certs, err := manifest.LoadCertStore(cfg.Certificate.CertPath, cfg.Certificate.KeyPath)
	if err != nil {
		logger.Fatal("Failed to load client certificate", zap.Error(err))
	}
	deliverer := manifest.NewDeliverer(certs)

	deploymentRepo := repositories.NewDeploymentRepository(db)
	leaseRepo := repositories.NewLeaseRepository(db)
	poolRepo := repositories.NewPoolRepository(db)

	adapters := map[entities.ProviderType]providers.Adapter{
		entities.ProviderCloudPool: cloudpool.New(
			cloudpool.NewHTTPPoolClient(cfg.CloudPool.APIBaseURL, cfg.CloudPool.APIToken),
			poolRepo,
		),
		entities.ProviderChainMarketA: chainmarket.New(
			marketConfig(cfg.Marketplace.A),
			chain.NewHTTPClient(cfg.Marketplace.A.RPCURL, cfg.Marketplace.A.QueryURL, signer),
			deliverer,
			leaseRepo,
		),
		entities.ProviderChainMarketB: chainmarket.New(
			marketConfig(cfg.Marketplace.B),
			chain.NewHTTPClient(cfg.Marketplace.B.RPCURL, cfg.Marketplace.B.QueryURL, signer),
			deliverer,
			leaseRepo,
		),
	}

	tasks := taskmanager.NewTaskManager(provisionWorkers, provisionQueueSize)
	tasks.Start()

	var publisher events.Publisher = events.NewLogPublisher()
	if cache != nil {
		publisher = events.Multi{
			events.NewLogPublisher(),
			events.NewRedisPublisher(cache.Client(), "deployments.transitions"),
		}
	}

	orch := orchestrator.New(deploymentRepo, adapters, tasks, publisher, cache)
	if err := orch.Recover(); err != nil {
		logger.Fatal("Failed to recover persisted deployments", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		orchestrator.NewPoller(orch, statusPollInterval).Run(ctx)
		return nil
	})

	g.Go(func() error {
		certs.WatchExpiry(ctx.Done(), certWatchInterval, cfg.Certificate.RotateBefore.Duration)
		return nil
	})

	server := servers.NewServer(orch, poolRepo, cfg.Server.CORSOrigins)
	routes.SetupRoutes(server)

	g.Go(func() error {
		return server.Start(strconv.Itoa(cfg.Server.Port))
	})

	g.Go(func() error {
		<-ctx.Done()
		tasks.Stop()
		if cache != nil {
			if err := cache.Close(); err != nil {
				logger.Warn("redis close", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited", zap.Error(err))
		os.Exit(1)
	}
}

func marketConfig(m config.MarketConfig) chainmarket.Config {
	return chainmarket.Config{
		BidWindow:          m.BidWindow.Duration,
		BidPollInterval:    m.BidPollInterval.Duration,
		StatusPollAttempts: m.StatusPollAttempts,
		StatusPollInterval: m.StatusPollInterval.Duration,
	}
}
