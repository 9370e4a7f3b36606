package server

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"hayatos/cache"
	"hayatos/codegen/snowflake"
	"hayatos/config"
	"hayatos/data/db/basic"
	"hayatos/data/db/migrate"
	"hayatos/data/query"
	"hayatos/data/source"
	"hayatos/data/source/rediscache"
	"hayatos/domain"
	"hayatos/domain/account"
	"hayatos/domain/faith"
	"hayatos/domain/habit"
	"hayatos/domain/salat"
	httpx "hayatos/http"
	hbasic "hayatos/http/basic"
	"hayatos/logging"
	"hayatos/messaging"
	"hayatos/messaging/transport/memory"
	"hayatos/messaging/transport/natsjetstream"
	"hayatos/messaging/transport/redisstreams"
	"hayatos/metrics"
	"hayatos/patterns/retry"
)

// Mode 进程角色
type Mode string

const (
	// ModeServe HTTP 接口 + 队列消费者 + 定时任务
	ModeServe Mode = "serve"
	// ModeWorker 只运行队列消费者与定时任务
	ModeWorker Mode = "worker"
)

// App 实现 IServer，按 config → logger → db → migrations → sources → services →
// queue → workers → cron → HTTP 的顺序装配
type App struct {
	viper      *viper.Viper
	configPath string
	mode       Mode

	cfg    *config.Config
	logger logging.Logger
	zap    *logging.ZapLogger

	db        *basic.DB
	redis     redis.UniversalClient
	transport messaging.Transport
	cron      *cron.Cron
	http      *hbasic.HttpServer
	modules   []domain.IModule

	transportStarted bool
}

var _ IServer = (*App)(nil)

// NewApp 创建应用，配置在 LoadConfig 时读取
func NewApp(v *viper.Viper, configPath string, mode Mode) *App {
	if mode == "" {
		mode = ModeServe
	}
	return &App{viper: v, configPath: configPath, mode: mode}
}

// NewAppWithConfig 使用已加载的配置，logger 为空时按配置构建 zap
func NewAppWithConfig(cfg *config.Config, mode Mode, logger logging.Logger) *App {
	a := NewApp(nil, "", mode)
	a.cfg = cfg
	a.logger = logger
	return a
}

func (a *App) Name() string { return "hayatos-" + string(a.mode) }

// Config 已加载的配置
func (a *App) Config() *config.Config { return a.cfg }

// Handler HTTP 根处理器，worker 模式下为 nil
func (a *App) Handler() http.Handler {
	if a.http == nil {
		return nil
	}
	return a.http.Handler()
}

// Transport 任务队列
func (a *App) Transport() messaging.Transport { return a.transport }

func (a *App) LoadConfig() error {
	if a.cfg == nil {
		cfg, err := config.Load(a.viper, a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else if err := a.cfg.Validate(); err != nil {
		return err
	}
	if a.logger == nil {
		z, err := logging.NewZapLogger(a.cfg.Log.Zap())
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		a.zap = z
		a.logger = z
	}
	logging.SetLogger(a.logger)
	return nil
}

func (a *App) SetupDependencies(ctx context.Context) error {
	cfg := a.cfg

	err := retry.Do(ctx, cfg.Startup, func(ctx context.Context, attempt int) error {
		db, err := basic.New(cfg.Database)
		if err != nil {
			a.logger.Warn(ctx, "database not ready", logging.Int("attempt", attempt), logging.Error(err))
			return err
		}
		a.db = db
		return nil
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db := a.db
	m, err := migrate.New(db.SQLDB(), db.GetDialectName(), a.component("migrate"))
	if err != nil {
		return err
	}
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		policy := cfg.Startup
		if cfg.Queue.Driver != "redis" {
			// 仅作缓存时不等待
			policy.MaxAttempts = 1
		}
		err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
			err := a.redis.Ping(ctx).Err()
			if err != nil && policy.MaxAttempts > 1 {
				a.logger.Warn(ctx, "redis not ready", logging.Int("attempt", attempt), logging.Error(err))
			}
			return err
		})
		if err != nil {
			if cfg.Queue.Driver == "redis" {
				return fmt.Errorf("ping redis: %w", err)
			}
			a.logger.Warn(ctx, "redis unreachable, query cache falls back to the database", logging.Error(err))
		}
	}

	if err := a.setupTransport(); err != nil {
		return err
	}

	ids, err := snowflake.NewGenerator(cfg.Snowflake.Node)
	if err != nil {
		return err
	}

	faithSvc := faith.NewService(a.faithSources(), faith.Config{
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
		AllowPartial: cfg.Query.AllowPartial,
		Logger:       a.component("faith"),
	})
	accountSvc := account.NewService(db, ids, a.transport, account.Config{
		DeletionGrace: cfg.Account.DeletionGrace,
		MaxAttempts:   cfg.Queue.MaxDeliver,
		Logger:        a.component("account"),
	})
	a.modules = []domain.IModule{
		faith.NewModule(faithSvc),
		habit.NewModule(habit.NewService(db, ids, a.component("habits")), cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		salat.NewModule(salat.NewService(db, ids, a.component("salat")), cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		account.NewModule(accountSvc, cfg.Account.SweepSchedule),
	}

	a.cron = cron.New(cron.WithLogger(cronLogger{a.component("cron")}),
		cron.WithChain(cron.Recover(cronLogger{a.component("cron")}), cron.SkipIfStillRunning(cronLogger{a.component("cron")})))
	for _, mod := range a.modules {
		if w, ok := mod.(domain.IWorkerModule); ok {
			if err := w.RegisterWorkers(a.transport); err != nil {
				return fmt.Errorf("register workers for %s: %w", mod.GetName(), err)
			}
		}
		if s, ok := mod.(domain.IScheduledModule); ok {
			if err := s.RegisterSchedules(a.cron); err != nil {
				return fmt.Errorf("register schedules for %s: %w", mod.GetName(), err)
			}
		}
	}

	if a.mode == ModeServe {
		a.setupHTTP()
	}
	a.logger.Info(ctx, "dependencies ready",
		logging.String("mode", string(a.mode)),
		logging.String("database", db.GetDialectName()),
		logging.String("queue", cfg.Queue.Driver),
		logging.Bool("redis", a.redis != nil))
	return nil
}

func (a *App) setupTransport() error {
	cfg := a.cfg
	policy := messaging.DeliveryPolicy{MaxDeliver: cfg.Queue.MaxDeliver, RetryDelay: cfg.Queue.RetryDelay}
	switch cfg.Queue.Driver {
	case "redis":
		t, err := redisstreams.NewTransport(redisstreams.Config{
			Client: a.redis,
			Policy: policy,
			Logger: a.component("messaging.redisstreams"),
		})
		if err != nil {
			return err
		}
		a.transport = t
	case "nats":
		a.transport = natsjetstream.NewTransport(natsjetstream.Config{
			URL:     cfg.NATS.URL,
			Stream:  cfg.NATS.Stream,
			AckWait: cfg.NATS.AckWait,
			Policy:  policy,
			Logger:  a.component("messaging.natsjetstream"),
		})
	default:
		a.transport = memory.New(memory.Config{
			QueueSize: cfg.Queue.Size,
			Workers:   cfg.Queue.Workers,
			Policy:    policy,
			Logger:    a.component("messaging.memory"),
		})
	}
	return nil
}

// faithSources 内容表只读，结果按查询缓存：配置了 Redis 时多实例共享，否则进程内缓存
func (a *App) faithSources() faith.Sources {
	base := faith.NewSQLSources(a.db)
	wrap := func(name string, next query.Source) query.Source {
		var cached query.Source
		if a.redis != nil {
			cached = rediscache.New(a.redis, rediscache.Config{
				Name:   name,
				TTL:    a.cfg.Redis.CacheTTL,
				Logger: a.component("source.rediscache"),
			}, next)
		} else {
			cached = source.Cached(cache.New[string, query.Page](cache.Config{
				Name:    name,
				MaxSize: a.cfg.Cache.MaxSize,
				TTL:     a.cfg.Cache.TTL,
			}), next)
		}
		return source.Instrumented(name, cached, a.component("source"))
	}
	return faith.Sources{
		Quran:  wrap("quran", base.Quran),
		Hadith: wrap("hadith", base.Hadith),
		Dua:    wrap("dua", base.Dua),
		Azkar:  wrap("azkar", base.Azkar),
	}
}

func (a *App) setupHTTP() {
	cfg := a.cfg
	srv := hbasic.NewHTTPServer(httpx.WebConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}).WithLogger(a.component("http"))

	srv.Use(
		hbasic.RequestIDMiddleware(a.component("http.access")),
		hbasic.RecoverMiddleware(a.component("http")),
		hbasic.MetricsMiddleware(),
		hbasic.PrincipalMiddleware(cfg.Server.PrincipalHeader),
	)
	if cfg.Limits.RPS > 0 {
		srv.Use(hbasic.RateLimitMiddleware(hbasic.NewRateLimiter(cfg.Limits.RPS, cfg.Limits.Burst)))
	}
	srv.Mount("/metrics", metrics.Handler())
	srv.GET("/healthz", a.health)

	root := srv.Group("")
	for _, m := range a.modules {
		m.RegisterRoutes(root)
	}
	a.http = srv
}

func (a *App) health(ctx httpx.IHttpContext) error {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "queue": a.transport.Stats()}
	if err := a.db.Ping(ctx.GetContext()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	return ctx.JSON(status, body)
}

func (a *App) StartBackgroundTasks(ctx context.Context) error {
	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	a.transportStarted = true
	a.cron.Start()
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a.http == nil {
		<-ctx.Done()
		return nil
	}
	a.logger.Info(ctx, "http listening", logging.String("addr", a.cfg.Server.Addr))
	return a.http.Start("")
}

// Shutdown 先停止接收请求，再停定时任务与队列，最后关闭连接
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}
	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop cron: %w", ctx.Err()))
		}
	}
	if a.transport != nil && a.transportStarted {
		if err := a.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
		a.transportStarted = false
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	return stdErrors.Join(errs...)
}

func (a *App) component(name string) logging.Logger {
	return a.logger.WithFields(logging.String("component", name))
}

// cronLogger 把 cron 的日志接口接到 logging.Logger
type cronLogger struct{ l logging.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(context.Background(), msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(context.Background(), msg, append(kvFields(kv), logging.Error(err))...)
}

func kvFields(kv []any) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if t, ok := kv[i+1].(time.Time); ok {
			fields = append(fields, logging.String(key, t.Format(time.RFC3339)))
			continue
		}
		fields = append(fields, logging.Any(key, kv[i+1]))
	}
	return fields
}
