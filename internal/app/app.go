// Package app 组装下注客户端的各个组件
//
// 初始化顺序: 存储 → 事件发布 → 链上网关 → 代付中继 → 会话 → 下注流程
// → 索引服务与自动开奖 → 控制接口。
// CLI 子命令只调用 Init 使用组件; serve 额外调用 Start 启动后台任务与 HTTP 服务。
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/config"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/game"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/indexer"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/kafka"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/relay"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/reveal"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/router"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/scheduler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/session"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/ws"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// App 下注客户端应用
type App struct {
	cfg *config.Config

	// 基础设施
	db        *gorm.DB
	rdb       redis.UniversalClient
	store     storage.Store
	journal   repository.JournalRepository
	publisher kafka.Publisher

	// 链上
	chain   *blockchain.Client
	gateway *blockchain.Gateway
	gas     *contract.GasEstimator
	vault   *contract.VaultContract
	wallet  blockchain.Wallet
	relay   *relay.Client

	// 业务组件
	calc         *outcome.Calculator
	sessions     *session.Manager
	claimer      *game.Claimer
	orchestrator *game.Orchestrator
	heads        *blockchain.BlockNumberCache
	indexer      *indexer.Client
	sweeper      *reveal.Sweeper

	// 服务
	hub        *ws.Hub
	scheduler  *scheduler.Scheduler
	health     *handler.HealthHandler
	httpServer *http.Server
	live       *indexer.Subscription
	stopState  func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Init 初始化全部组件, 不启动后台任务
func (a *App) Init(ctx context.Context) error {
	if err := a.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	if err := a.initPublisher(); err != nil {
		return fmt.Errorf("failed to init kafka: %w", err)
	}
	if err := a.initChain(ctx); err != nil {
		return fmt.Errorf("failed to init chain: %w", err)
	}
	if err := a.initRelay(ctx); err != nil {
		return fmt.Errorf("failed to init relay: %w", err)
	}
	if err := a.initGame(ctx); err != nil {
		return fmt.Errorf("failed to init game: %w", err)
	}
	if err := a.initIndexer(); err != nil {
		return fmt.Errorf("failed to init indexer: %w", err)
	}
	return nil
}

func (a *App) initStorage() error {
	db, err := repository.Open(a.cfg.Database)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}
	a.db = db
	a.journal = repository.NewJournalRepository(db)

	if a.cfg.Storage.Driver == "redis" {
		a.rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    a.cfg.Redis.Addresses,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	a.store, err = newStore(a.cfg.Storage.Driver, a.rdb, a.cfg.Redis.KeyPrefix, db)
	if err != nil {
		return err
	}
	logger.Info("storage initialized",
		zap.String("driver", a.cfg.Storage.Driver),
		zap.String("database", a.cfg.Database.Driver))
	return nil
}

// newStore 按驱动创建键值存储
func newStore(driver string, rdb redis.UniversalClient, prefix string, db *gorm.DB) (storage.Store, error) {
	switch driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis client is required")
		}
		return storage.NewRedisStore(rdb, prefix), nil
	case "sql":
		if db == nil {
			return nil, errors.New("database is required")
		}
		return storage.NewSQLStore(repository.NewKVRepository(db)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func (a *App) initPublisher() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.publisher = kafka.NoopPublisher{}
		return nil
	}
	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.ClientID)
	if err != nil {
		return err
	}
	a.publisher = producer
	logger.Info("kafka publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

func (a *App) initChain(ctx context.Context) error {
	bc := a.cfg.Blockchain
	chain, err := blockchain.NewClient(ctx, &blockchain.ClientConfig{
		ChainID:       bc.ChainID,
		RPCURLs:       append([]string{bc.RPCURL}, bc.BackupRPCURLs...),
		MaxRetries:    bc.MaxRetries,
		RetryInterval: bc.RetryInterval,
	})
	if err != nil {
		return err
	}
	a.chain = chain

	dice, err := contract.NewDiceContract(common.HexToAddress(bc.DiceContract), chain)
	if err != nil {
		return err
	}
	var token *contract.TokenContract
	if bc.TokenAddress != "" {
		if token, err = contract.NewTokenContract(common.HexToAddress(bc.TokenAddress), chain); err != nil {
			return err
		}
	}
	if bc.VaultAddress != "" {
		if a.vault, err = contract.NewVaultContract(common.HexToAddress(bc.VaultAddress), chain); err != nil {
			return err
		}
	}

	a.gas = contract.NewGasEstimator(&contract.GasEstimatorConfig{GasPriceMultiplier: bc.GasMultiplier}, chain)

	var nonces blockchain.NonceSource
	if a.rdb != nil {
		nonces = blockchain.NewNonceManager(chain, a.rdb, &blockchain.NonceManagerConfig{
			ChainID:   bc.ChainID,
			KeyPrefix: a.cfg.Redis.KeyPrefix,
		})
	}

	gc := a.cfg.Game
	a.gateway = blockchain.NewGateway(chain, dice, token, a.gas, nonces, blockchain.GatewayConfig{
		ChainID:           big.NewInt(bc.ChainID),
		ClaimWindow:       gc.ClaimWindow,
		BetLookupAttempts: gc.BetLookupAttempts,
		BetLookupInterval: gc.BetLookupInterval,
		BlockPollInterval: gc.BlockPollInterval,
		ReceiptTimeout:    gc.ReceiptTimeout,
	})

	if bc.PrivateKey != "" {
		wallet, err := blockchain.NewLocalWallet(bc.PrivateKey)
		if err != nil {
			return err
		}
		a.wallet = wallet
	}

	logger.Info("chain initialized",
		zap.Int64("chain_id", bc.ChainID),
		zap.String("dice", dice.Address().Hex()),
		zap.Bool("native", token == nil),
		zap.Bool("wallet", a.wallet != nil))
	return nil
}

func (a *App) initRelay(ctx context.Context) error {
	rc := a.cfg.Relay
	if !rc.Enabled {
		return nil
	}
	bundler, paymaster, err := relay.Dial(ctx, rc.BundlerURL, rc.PaymasterURL)
	if err != nil {
		return err
	}
	accounts, err := contract.NewAccountContracts(
		common.HexToAddress(rc.AccountFactory),
		common.HexToAddress(rc.EntryPoint),
		a.chain,
	)
	if err != nil {
		return err
	}
	breaker := rc.Breaker
	a.relay = relay.NewClient(bundler, paymaster, accounts, relay.NewIdentity(a.store), a.gas, relay.Config{
		ChainID:        big.NewInt(a.cfg.Blockchain.ChainID),
		ReceiptTimeout: rc.ReceiptTimeout,
		ReceiptPoll:    rc.ReceiptPoll,
		Breaker:        &breaker,
	})
	logger.Info("relay initialized", zap.String("bundler", rc.BundlerURL))
	return nil
}

func (a *App) initGame(ctx context.Context) error {
	gc := a.cfg.Game
	a.calc = outcome.NewCalculator(gc.HouseEdgeBP)

	// 会话账户由中继推导, 未启用中继时不提供会话
	if a.relay != nil {
		maxBet, err := parseMaxBet(a.cfg.Session.DefaultMaxBet)
		if err != nil {
			return err
		}
		a.sessions = session.NewManager(a.gateway, a.relay, a.store, session.Config{
			DefaultDuration: a.cfg.Session.DefaultDuration,
			DefaultMaxBet:   maxBet,
			VerifyDelay:     a.cfg.Session.VerifyDelay,
		})
		if a.wallet != nil {
			if _, err := a.sessions.Restore(ctx, a.wallet.Address()); err != nil {
				logger.Warn("failed to restore session", zap.Error(err))
			}
		}
	}

	var sponsor game.Sponsor
	if a.relay != nil {
		sponsor = a.relay
	}
	a.claimer = game.NewClaimer(a.gateway, sponsor, nil, game.ClaimerConfig{EarlyRetries: gc.ClaimEarlyRetries})
	a.orchestrator = game.NewOrchestrator(game.Deps{
		Gateway:   a.gateway,
		Claimer:   a.claimer,
		Sessions:  a.sessions,
		Wallet:    a.wallet,
		Journal:   a.journal,
		Publisher: a.publisher,
	}, game.Config{
		FallbackDelay:    gc.FallbackDelay,
		BlockWaitTimeout: gc.BlockWaitTimeout,
	})
	return nil
}

// parseMaxBet 代币数量转为最小单位, 为空时返回 nil 使用默认值
func parseMaxBet(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil, fmt.Errorf("invalid session.default_max_bet %q", s)
	}
	return model.ToWei(d), nil
}

func (a *App) initIndexer() error {
	ic := a.cfg.Indexer
	a.heads = blockchain.NewBlockNumberCache(a.chain, ic.BlockCacheTTL)
	if ic.BaseURL == "" {
		logger.Warn("indexer not configured, history and auto-reveal disabled")
		return nil
	}

	idx, err := indexer.NewClient(indexer.Config{
		BaseURL:     ic.BaseURL,
		APIKey:      ic.APIKey,
		ChainID:     a.cfg.Blockchain.ChainID,
		Dice:        common.HexToAddress(a.cfg.Blockchain.DiceContract),
		Vault:       common.HexToAddress(a.cfg.Blockchain.VaultAddress),
		Timeout:     ic.Timeout,
		ClaimWindow: a.gateway.ClaimWindow(),
	}, a.heads)
	if err != nil {
		return err
	}
	a.indexer = idx

	if a.cfg.Sweeper.Enabled {
		a.sweeper = reveal.NewSweeper(reveal.Deps{
			History:   idx,
			Heads:     a.gateway,
			Claimer:   a.claimer,
			Wallet:    a.wallet,
			Journal:   a.journal,
			Publisher: a.publisher,
			Flow:      a.orchestrator,
		}, reveal.Config{
			HistoryLimit: a.cfg.Sweeper.HistoryLimit,
			ClaimWindow:  a.gateway.ClaimWindow(),
		})
	}
	return nil
}

// Start 启动后台任务与 HTTP 服务
func (a *App) Start() error {
	a.hub = ws.NewHub()
	go a.hub.Run()
	a.wireStreams()

	if err := a.initScheduler(); err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}

	if a.sweeper != nil && a.wallet != nil {
		a.sweeper.Trigger(a.ctx, a.wallet.Address())
	}
	if a.indexer != nil && a.cfg.Indexer.LiveEnabled && a.wallet != nil {
		feed := newLiveFeed(a.hub, liveFeedTTL)
		a.live = a.indexer.SubscribeBets(a.ctx, a.wallet.Address(), indexer.LiveConfig{}, feed.handle)
	}

	a.initHTTP()
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", a.cfg.HTTP.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	a.health.SetReady(true)
	return nil
}

// wireStreams 把状态变化推送到 WebSocket 频道
func (a *App) wireStreams() {
	a.hub.SetSnapshot(ws.ChannelState, func() interface{} { return a.orchestrator.State() })
	states, stop := a.orchestrator.Subscribe()
	a.stopState = stop
	go func() {
		for s := range states {
			a.hub.Publish(ws.ChannelState, s)
		}
	}()

	if a.sweeper != nil {
		a.hub.SetSnapshot(ws.ChannelReveals, func() interface{} { return a.sweeper.Results() })
		a.sweeper.OnResult(func(r reveal.Reveal) { a.hub.Publish(ws.ChannelReveals, r) })
	}

	if a.sessions != nil {
		snapshot := func() interface{} {
			return &handler.SessionStatusResponse{
				Status:          a.sessions.Status(),
				Grant:           a.sessions.Grant(),
				SkipWalletPopup: a.sessions.SkipWalletPopup(a.ctx),
			}
		}
		a.hub.SetSnapshot(ws.ChannelSession, snapshot)
		a.sessions.OnChange(func(model.SessionStatus) { a.hub.Publish(ws.ChannelSession, snapshot()) })
	}
}

func (a *App) initScheduler() error {
	a.scheduler = scheduler.New()

	if a.sessions != nil {
		err := a.scheduler.RegisterJob(&scheduler.FuncJob{
			JobName:    "session-verify",
			JobTimeout: 30 * time.Second,
			Fn: func(ctx context.Context) error {
				if !a.sessions.IsActive() {
					return nil
				}
				_, err := a.sessions.Verify(ctx)
				return err
			},
		}, scheduler.JobConfig{Cron: a.cfg.Session.VerifyCron, Enabled: true})
		if err != nil {
			return err
		}
	}

	if a.sweeper != nil && a.wallet != nil {
		player := a.wallet.Address()
		err := a.scheduler.RegisterJob(&scheduler.FuncJob{
			JobName:    "reveal-sweep",
			JobTimeout: 5 * time.Minute,
			Fn: func(ctx context.Context) error {
				_, err := a.sweeper.Sweep(ctx, player)
				if errors.Is(err, reveal.ErrClosed) {
					return nil
				}
				return err
			},
		}, scheduler.JobConfig{Cron: a.cfg.Sweeper.Cron, Enabled: a.cfg.Sweeper.Cron != ""})
		if err != nil {
			return err
		}
	}

	a.scheduler.Start()
	return nil
}

func (a *App) initHTTP() {
	a.health = handler.NewHealthHandler(&handler.HealthDeps{
		Chain: handler.PingFunc(a.chain.HealthCheck),
		Storage: handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	})

	var player common.Address
	if a.wallet != nil {
		player = a.wallet.Address()
	}
	var history handler.HistoryService
	if a.indexer != nil {
		history = a.indexer
	}
	query := handler.NewQueryHandler(a.calc, history, a.journal, player)
	if a.vault != nil {
		query.WithVault(a.vault)
	}

	var prefs handler.PreferenceSource
	handlers := router.Handlers{
		Health: a.health,
		Query:  query,
		WS:     ws.NewHandler(a.hub, ws.Config{}),
	}
	if a.sessions != nil {
		prefs = a.sessions
		handlers.Session = handler.NewSessionHandler(a.sessions, a.wallet)
	}
	handlers.Bet = handler.NewBetHandler(a.orchestrator, prefs)
	if a.sweeper != nil {
		handlers.Reveal = handler.NewRevealHandler(a.sweeper)
	}

	engine := gin.New()
	r := router.New(engine)
	r.RegisterMiddleware()
	r.RegisterRoutes(handlers)

	a.httpServer = &http.Server{
		Addr:        a.cfg.HTTP.Addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		// 同步下注会等待出块, 不设置写超时
		IdleTimeout: 60 * time.Second,
	}
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	if a.health != nil {
		a.health.SetReady(false)
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	a.cancel()
	if a.live != nil {
		a.live.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.sweeper != nil {
		a.sweeper.Close()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.orchestrator != nil {
		a.orchestrator.Reset()
	}
	if a.stopState != nil {
		a.stopState()
	}
	if a.hub != nil {
		a.hub.Stop()
	}

	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
	logger.Info("application stopped")
	return errors.Join(errs...)
}

// Config 配置
func (a *App) Config() *config.Config { return a.cfg }

// Wallet 本地钱包, 未配置私钥时为空
func (a *App) Wallet() blockchain.Wallet { return a.wallet }

// Gateway 链上网关
func (a *App) Gateway() *blockchain.Gateway { return a.gateway }

// Calculator 结果计算器
func (a *App) Calculator() *outcome.Calculator { return a.calc }

// Orchestrator 下注流程
func (a *App) Orchestrator() *game.Orchestrator { return a.orchestrator }

// Sessions 会话管理器, 未启用中继时为空
func (a *App) Sessions() *session.Manager { return a.sessions }

// Sweeper 自动开奖, 未配置索引服务或未启用时为空
func (a *App) Sweeper() *reveal.Sweeper { return a.sweeper }

// Indexer 索引客户端, 未配置时为空
func (a *App) Indexer() *indexer.Client { return a.indexer }

// Journal 本地下注流水
func (a *App) Journal() repository.JournalRepository { return a.journal }
