package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
	"trade-router-go/internal/queue"
)

// Handler 执行单个任务；Pool 每次尝试恰好调用一次。
type Handler interface {
	Execute(ctx context.Context, job queue.Job) error
}

// HandlerFunc 函数适配器。
type HandlerFunc func(ctx context.Context, job queue.Job) error

func (f HandlerFunc) Execute(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// PoolState 工作池状态
type PoolState int

const (
	// PoolIdle 未启动
	PoolIdle PoolState = iota
	// PoolRunning 运行中
	PoolRunning
	// PoolPaused 暂停拉取（在途任务不受影响）
	PoolPaused
	// PoolClosed 已关闭
	PoolClosed
)

// String 返回状态名称
func (s PoolState) String() string {
	switch s {
	case PoolIdle:
		return "IDLE"
	case PoolRunning:
		return "RUNNING"
	case PoolPaused:
		return "PAUSED"
	case PoolClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config 工作池配置。
type Config struct {
	Concurrency    int
	WindowLimit    int
	WindowInterval time.Duration
}

// DefaultConfig 默认：10 并发，60 秒窗口内最多 100 次启动。
func DefaultConfig() Config {
	return Config{
		Concurrency:    10,
		WindowLimit:    100,
		WindowInterval: 60 * time.Second,
	}
}

// Pool 从队列拉取任务并受并发上限与滑动窗口准入约束地执行。
type Pool struct {
	cfg     Config
	queue   *queue.Queue
	handler Handler
	limiter *WindowLimiter
	log     *logger.Logger
	mon     *monitor.Monitor

	sem chan struct{}

	mu            sync.Mutex
	state         PoolState
	resumeCh      chan struct{}
	dequeueCancel context.CancelFunc

	cancel    context.CancelFunc
	parentCtx context.Context
	doneChan  chan struct{}
	wg        sync.WaitGroup
}

// New 创建工作池。
func New(cfg Config, q *queue.Queue, handler Handler, log *logger.Logger, mon *monitor.Monitor) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		handler:  handler,
		limiter:  NewWindowLimiter(cfg.WindowLimit, cfg.WindowInterval),
		log:      log,
		mon:      mon,
		sem:      make(chan struct{}, cfg.Concurrency),
		state:    PoolIdle,
		resumeCh: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动拉取循环。
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PoolIdle {
		p.mu.Unlock()
		return errors.New("pool already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.parentCtx = ctx
	p.state = PoolRunning
	p.mu.Unlock()

	go p.run(runCtx)
	return nil
}

func (p *Pool) run(ctx context.Context) {
	defer close(p.doneChan)
	for {
		if err := p.waitResumed(ctx); err != nil {
			return
		}

		// 先占并发槽，再过准入窗口，最后才取任务，
		// 避免把任务取出后卡在等待上。
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		if err := p.limiter.Wait(ctx); err != nil {
			<-p.sem
			return
		}

		// Pause 通过取消本次 Dequeue 阻止已阻塞的拉取拿到新任务
		dctx, dcancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.dequeueCancel = dcancel
		p.mu.Unlock()

		rec, err := p.queue.Dequeue(dctx)

		p.mu.Lock()
		p.dequeueCancel = nil
		p.mu.Unlock()
		dcancel()

		if err != nil {
			// 没拿到任务就不占窗口名额
			p.limiter.Refund()
			<-p.sem
			if errors.Is(err, queue.ErrClosed) {
				return
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return
				}
				continue // 被 Pause 打断，回到 waitResumed
			}
			p.log.LogError(err, map[string]interface{}{"action": "dequeue"})
			continue
		}

		// 在途任务挂在父 ctx 上：Close 只停止拉取循环，不打断执行中的任务
		p.wg.Add(1)
		go p.execute(p.parentCtx, rec)
	}
}

func (p *Pool) execute(ctx context.Context, rec *queue.Record) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	start := time.Now()
	err := p.handler.Execute(ctx, rec.Job)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		if cerr := p.queue.Complete(rec.Job.ID); cerr != nil {
			p.log.LogError(cerr, map[string]interface{}{"action": "complete", "job_id": rec.Job.ID})
		}
		if p.mon != nil {
			p.mon.RecordJobCompleted(elapsed)
		}
		p.log.LogJob("job_completed", rec.Job.ID, map[string]interface{}{
			"attempt":    rec.Attempts,
			"elapsed_ms": elapsed * 1000,
		})
	case errors.Is(err, queue.ErrUnretryable):
		// 域层已是终态，按完成处理，不再重试
		if cerr := p.queue.Complete(rec.Job.ID); cerr != nil {
			p.log.LogError(cerr, map[string]interface{}{"action": "complete", "job_id": rec.Job.ID})
		}
		p.log.LogJob("job_skipped_terminal", rec.Job.ID, map[string]interface{}{
			"attempt": rec.Attempts,
			"cause":   err.Error(),
		})
	default:
		if ferr := p.queue.Fail(rec.Job.ID, err); ferr != nil {
			p.log.LogError(ferr, map[string]interface{}{"action": "fail", "job_id": rec.Job.ID})
		}
		if p.mon != nil {
			p.mon.RecordJobFailed(elapsed)
		}
		p.log.LogJob("job_attempt_failed", rec.Job.ID, map[string]interface{}{
			"attempt": rec.Attempts,
			"cause":   err.Error(),
		})
	}
}

func (p *Pool) waitResumed(ctx context.Context) error {
	for {
		p.mu.Lock()
		state := p.state
		ch := p.resumeCh
		p.mu.Unlock()
		switch state {
		case PoolRunning:
			return nil
		case PoolClosed:
			return errors.New("pool closed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Pause 停止拉取新任务；在途任务继续执行。
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PoolRunning {
		p.state = PoolPaused
		if p.dequeueCancel != nil {
			p.dequeueCancel()
		}
	}
}

// Resume 恢复拉取。
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PoolPaused {
		return
	}
	p.state = PoolRunning
	close(p.resumeCh)
	p.resumeCh = make(chan struct{})
}

// State 返回当前状态。
func (p *Pool) State() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close 优雅关闭：停止拉取，等待在途任务完成。
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.state == PoolClosed {
		p.mu.Unlock()
		return nil
	}
	prev := p.state
	p.state = PoolClosed
	close(p.resumeCh)
	p.resumeCh = make(chan struct{})
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if prev != PoolIdle {
		<-p.doneChan
	}
	p.wg.Wait()
	return nil
}
