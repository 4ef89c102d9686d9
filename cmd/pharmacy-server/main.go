// Package main 是药房订单服务的 HTTP 入口
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/api"
	"github.com/MorseWayne/pharmacy_shop/internal/cache"
	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/database"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
	"github.com/MorseWayne/pharmacy_shop/internal/logger"
	mw "github.com/MorseWayne/pharmacy_shop/internal/middleware"
	"github.com/MorseWayne/pharmacy_shop/internal/mq"
	"github.com/MorseWayne/pharmacy_shop/internal/repo"
	"github.com/MorseWayne/pharmacy_shop/internal/router"
	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// app 持有需要在退出时释放的资源
type app struct {
	db        *database.DB
	redis     *redis.Client
	publisher mq.Publisher
	cancel    context.CancelFunc
}

func (a *app) close(lg *zap.Logger) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			lg.Sugar().Errorw("failed to close event publisher", "err", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			lg.Sugar().Errorw("failed to close redis client", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}
}

// redisClient 按需创建共享的 Redis 客户端
func (a *app) redisClient(cfg *config.Config) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := cache.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

// openDatabase 按需连接 MySQL 并执行迁移
func (a *app) openDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	lg.Sugar().Infow("using migrations directory", "path", cfg.Migrations.Dir)
	if err := db.RunMigrations(cfg.Migrations.Dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	a.db = db
	return db, nil
}

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// storage 目录与订单仓储，以及文件后端（供下单记录表复用）
type storage struct {
	catalogs repo.CatalogRepository
	orders   repo.OrderRepository
	files    *repo.FileStore
}

// initStorage 按配置选择文件或 MySQL 后端
func (a *app) initStorage(cfg *config.Config, lg *zap.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMySQL:
		db, err := a.openDatabase(cfg, lg)
		if err != nil {
			return nil, err
		}
		store := repo.NewMySQLStore(db.DB)
		lg.Sugar().Infow("storage initialized", "driver", "mysql")
		return &storage{catalogs: store, orders: store}, nil
	default:
		files, err := repo.NewFileStore(cfg.Storage.DataDir, lg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
		lg.Sugar().Infow("storage initialized", "driver", "file", "dir", cfg.Storage.DataDir)
		return &storage{catalogs: files, orders: files, files: files}, nil
	}
}

// initCache 初始化缓存实例，Redis 不可用时回退到内存缓存
func (a *app) initCache(cfg *config.Config, lg *zap.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache()
	}

	if cfg.Cache.Type == "redis" {
		client, err := a.redisClient(cfg)
		if err == nil {
			lg.Sugar().Infow("cache enabled", "type", "redis", "addr", cfg.Redis.Addr(), "ttl", cfg.Cache.TTL)
			return cache.NewRedisCache(client)
		}
		lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
	} else if cfg.Cache.Type != "memory" {
		lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
	}

	memCache, err := cache.NewMemoryCache(cfg.Cache.Size)
	if err != nil {
		lg.Sugar().Warnw("failed to create memory cache, cache disabled", "error", err)
		return cache.NewNullCache()
	}
	lg.Sugar().Infow("cache enabled", "type", "memory", "size", cfg.Cache.Size, "ttl", cfg.Cache.TTL)
	return memCache
}

// initOrderLimiter 初始化按来源的下单间隔限制
func (a *app) initOrderLimiter(cfg *config.Config, st *storage, lg *zap.Logger) (*limiter.OrderIntervalLimiter, error) {
	var store limiter.RecordStore
	switch cfg.Order.RateLimitStore {
	case "memory":
		store = limiter.NewMemoryRecordStore()
	case "redis":
		client, err := a.redisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		store = limiter.NewRedisRecordStore(client, "pharmacy:order_rate:", cfg.Order.RateLimitInterval)
	case "mysql":
		db, err := a.openDatabase(cfg, lg)
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		store = repo.NewMySQLRateLimitStore(db.DB)
	default:
		files := st.files
		if files == nil {
			var err error
			if files, err = repo.NewFileStore(cfg.Storage.DataDir, lg); err != nil {
				return nil, fmt.Errorf("rate limit store: %w", err)
			}
		}
		store = limiter.NewTableRecordStore(files)
	}

	lg.Sugar().Infow("order rate limiter initialized",
		"store", cfg.Order.RateLimitStore, "interval", cfg.Order.RateLimitInterval)
	return limiter.NewOrderIntervalLimiter(store, cfg.Order.RateLimitInterval, lg), nil
}

// initPublisher 初始化订单事件发布器，连接失败时降级为不发布
func (a *app) initPublisher(ctx context.Context, cfg *config.Config, lg *zap.Logger) mq.Publisher {
	pub, err := mq.NewPublisher(ctx, cfg.Events, cfg.App.Name, lg)
	if err != nil {
		lg.Sugar().Warnw("event publisher unavailable, order events disabled", "driver", cfg.Events.Driver, "error", err)
		pub = mq.NopPublisher{}
	}
	a.publisher = pub
	return pub
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func (a *app) initDependencies(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*router.Dependencies, error) {
	st, err := a.initStorage(cfg, lg)
	if err != nil {
		return nil, err
	}

	cacheInstance := a.initCache(cfg, lg)
	catalogs := st.catalogs
	if cfg.Cache.Enabled {
		catalogs = repo.NewCachedCatalogRepository(st.catalogs, cacheInstance, cfg.Cache.TTL, lg)
	}

	orderLimiter, err := a.initOrderLimiter(cfg, st, lg)
	if err != nil {
		return nil, err
	}
	publisher := a.initPublisher(ctx, cfg, lg)

	// 服务 -> API处理器
	inv := service.NewInventory(catalogs, st.orders, lg)
	orderService := service.NewOrderService(inv, orderLimiter, lg,
		service.WithIDSource(domain.RandomOrderID, cfg.Order.IDMaxAttempts),
		service.WithEventPublisher(publisher),
	)
	catalogService := service.NewCatalogService(inv, lg)
	reportService := service.NewReportService(inv)
	jwtService := service.NewJWTService(cfg, lg)
	adminService := service.NewAdminService(cfg.Admin, jwtService, lg)

	deps := &router.Dependencies{
		OrderHandler:   api.NewOrderHandler(orderService, cfg.Order.TrustProxyHeaders, lg),
		ProductHandler: api.NewProductHandler(catalogService, lg),
		AdminHandler:   api.NewAdminHandler(adminService, lg),
		ReportHandler:  api.NewReportHandler(reportService, lg),
		TokenValidator: jwtService,
	}

	if cfg.Throttle.Enabled {
		throttle := limiter.NewTokenBucketLimiter(cfg.Throttle.RPS, cfg.Throttle.Burst, cfg.Throttle.IdleTTL)
		throttle.StartJanitor(ctx, cfg.Throttle.IdleTTL)
		deps.Throttle = throttle
	}
	if cfg.Cache.Enabled {
		deps.IdempotencyCache = cacheInstance
	}
	return deps, nil
}

// buildHandler 构建路由并套上 net/http 中间件链
func buildHandler(cfg *config.Config, deps *router.Dependencies, lg *zap.Logger) http.Handler {
	handler := router.New().Setup(cfg, deps, lg)

	// 请求进入时执行顺序为 access log → CORS → timeout → recovery → request ID
	handler = mw.RequestID(handler)
	handler = mw.Recovery(lg)(handler)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)
	handler = mw.CORS(mw.CORSConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	})(handler)
	handler = mw.AccessLog(lg)(handler)

	return handler
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	lg.Sugar().Infow("server starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Sugar().Errorw("server error", "err", err)
			return
		}
	case <-quit:
		lg.Sugar().Infow("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

func main() {
	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{cancel: cancel}
	defer a.close(lg)

	// 2) 初始化存储、缓存、限流、事件与服务
	deps, err := a.initDependencies(ctx, cfg, lg)
	if err != nil {
		lg.Sugar().Errorw("failed to initialize dependencies", "err", err)
		a.close(lg)
		os.Exit(1)
	}

	// 3) 设置路由和中间件，启动 HTTP 服务器
	startServer(cfg, buildHandler(cfg, deps, lg), lg)
}
