package container

import (
	"context"
	"fmt"
	"time"

	"trade-router-go/api"
	"trade-router-go/config"
	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
	"trade-router-go/internal/pipeline"
	"trade-router-go/internal/pubsub"
	"trade-router-go/internal/queue"
	"trade-router-go/internal/router"
	"trade-router-go/internal/store"
	"trade-router-go/internal/worker"
)

// Container 依赖注入容器，管理所有组件的构建与生命周期。
// 所有服务在这里构造一次后按引用传递，不存在任何全局查找。
type Container struct {
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 核心服务
	store     store.Store
	storeDB   *store.BadgerStore
	queue     *queue.Queue
	venues    map[string]*router.SimulatedVenue
	selector  *router.Selector
	publisher *pubsub.Publisher
	driver    *pipeline.Driver
	pool      *worker.Pool
	server    *api.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 加载配置并创建容器。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}, nil
}

// NewWithConfig 直接用现成配置创建容器，测试用。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildCoreServices() error {
	if c.cfg.Store.InMemory {
		c.store = store.NewMemoryStore()
	} else {
		db, err := store.OpenBadger(store.OpenOptions{Dir: c.cfg.Store.Dir})
		if err != nil {
			return err
		}
		c.storeDB = db
		c.store = db
	}

	q, err := queue.Open(queue.Config{
		Dir:                c.cfg.Queue.Dir,
		InMemory:           c.cfg.Queue.InMemory,
		MaxAttempts:        c.cfg.Queue.MaxAttempts,
		BackoffBase:        time.Duration(c.cfg.Queue.BackoffBaseMs) * time.Millisecond,
		CompletedRetention: c.cfg.Queue.CompletedRetention,
		FailedRetention:    c.cfg.Queue.FailedRetention,
	}, c.logger, c.monitor)
	if err != nil {
		return err
	}
	c.queue = q

	c.venues = make(map[string]*router.SimulatedVenue, len(c.cfg.Routing.Venues))
	sources := make([]router.QuoteSource, 0, len(c.cfg.Routing.Venues))
	for _, vc := range c.cfg.Routing.Venues {
		v := router.NewSimulatedVenue(vc)
		c.venues[vc.Name] = v
		sources = append(sources, v)
	}
	c.selector, err = router.NewSelector(router.Config{
		ExecMinDelay: time.Duration(c.cfg.Routing.ExecMinDelayMs) * time.Millisecond,
		ExecMaxDelay: time.Duration(c.cfg.Routing.ExecMaxDelayMs) * time.Millisecond,
	}, sources, c.logger, c.monitor)
	if err != nil {
		return err
	}

	c.publisher = pubsub.NewPublisher(c.logger, c.monitor)

	c.driver = pipeline.New(pipeline.Config{
		ConfirmationDelay: time.Duration(c.cfg.Routing.ConfirmationDelayMs) * time.Millisecond,
	}, c.store, c.selector, c.publisher, c.logger, c.monitor)

	c.pool = worker.New(worker.Config{
		Concurrency:    c.cfg.Worker.Concurrency,
		WindowLimit:    c.cfg.Worker.WindowLimit,
		WindowInterval: time.Duration(c.cfg.Worker.WindowIntervalMs) * time.Millisecond,
	}, c.queue, c.driver, c.logger, c.monitor)

	c.server = api.NewServer(c.cfg.Server, c.store, c.queue, c.publisher, c.logger, c.monitor)

	c.logger.Info("core services built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register("worker_pool", &funcComponent{
		start: c.pool.Start,
		stop:  c.pool.Close,
		health: func() error {
			if c.pool.State() == worker.PoolClosed {
				return fmt.Errorf("worker pool closed")
			}
			return nil
		},
	})
	c.lifecycle.Register("api_server", &funcComponent{
		start: func(ctx context.Context) error { return c.server.Start() },
		stop: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.server.Shutdown(ctx)
		},
	})
	if c.configPath != "" {
		var cancelReload context.CancelFunc
		c.lifecycle.Register("config_reloader", &funcComponent{
			start: func(ctx context.Context) error {
				rctx, cancel := context.WithCancel(context.Background())
				cancelReload = cancel
				go func() {
					reloader := config.NewReloader(c.configPath, c.logger)
					err := reloader.Start(rctx, c.applyConfig)
					if err == nil || rctx.Err() != nil {
						return
					}
					// inotify 不可用时退回 mtime 轮询
					c.logger.LogError(err, map[string]interface{}{"action": "config_watch_fallback"})
					w := config.Watcher{Path: c.configPath, Log: c.logger}
					w.Start(rctx, c.applyConfig)
				}()
				return nil
			},
			stop: func() error {
				if cancelReload != nil {
					cancelReload()
				}
				return nil
			},
		})
	}
}

// applyConfig 把热更新后的场所参数套到运行中的选择器上。
// 只有路由参数支持热更新，其余字段改动需要重启进程。
func (c *Container) applyConfig(cfg config.AppConfig) {
	next := make([]router.QuoteSource, 0, len(cfg.Routing.Venues))
	nextVenues := make(map[string]*router.SimulatedVenue, len(cfg.Routing.Venues))
	for _, vc := range cfg.Routing.Venues {
		if v, ok := c.venues[vc.Name]; ok {
			v.SetParams(vc.PriceMin, vc.PriceMax, vc.FeeRate)
			nextVenues[vc.Name] = v
			next = append(next, v)
			continue
		}
		v := router.NewSimulatedVenue(vc)
		nextVenues[vc.Name] = v
		next = append(next, v)
	}
	if err := c.selector.ReplaceSources(next); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "apply_config"})
		return
	}
	c.venues = nextVenues
	c.logger.Info("routing config applied")
}

// Start 启动容器内所有组件。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 停止所有组件并释放底层资源。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	c.publisher.Close()
	if qerr := c.queue.Close(); qerr != nil && err == nil {
		err = qerr
	}
	if c.storeDB != nil {
		if serr := c.storeDB.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	if c.logger != nil {
		c.logger.Close()
	}
	return err
}

// HealthCheck 聚合组件健康状态。
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Queue 暴露队列句柄，运维端点与测试用。
func (c *Container) Queue() *queue.Queue { return c.queue }

// Publisher 暴露发布器句柄。
func (c *Container) Publisher() *pubsub.Publisher { return c.publisher }
