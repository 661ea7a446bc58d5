package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
)

var (
	// ErrClosed 队列已关闭，不再接受新任务。
	ErrClosed = errors.New("queue closed")
	// ErrUnknownJob 任务不存在或已被保留策略清理。
	ErrUnknownJob = errors.New("unknown job")
	// ErrUnretryable 标记不应触发队列重试的执行错误。
	// 执行器返回的错误链中包含它时，任务按完成处理而不是重试。
	ErrUnretryable = errors.New("unretryable job error")
)

// State 任务状态。同一 key 同时只会处于其中一个状态。
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job 入队载荷，key 即订单 id。
type Job struct {
	ID        string  `json:"id"`
	TokenIn   string  `json:"tokenIn"`
	TokenOut  string  `json:"tokenOut"`
	Amount    float64 `json:"amount"`
	OrderType string  `json:"orderType"`
}

// Record 任务的持久化记录。
type Record struct {
	Job        Job       `json:"job"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Metrics 队列各状态的任务数量快照。
type Metrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (m Metrics) logFields() map[string]interface{} {
	return map[string]interface{}{
		"waiting":   m.Waiting,
		"active":    m.Active,
		"delayed":   m.Delayed,
		"completed": m.Completed,
		"failed":    m.Failed,
	}
}

// Config 队列配置。
type Config struct {
	Dir                string
	InMemory           bool
	MaxAttempts        int
	BackoffBase        time.Duration
	CompletedRetention int
	FailedRetention    int
}

// DefaultConfig 默认值与生产模拟一致：3 次尝试、1s 基数指数退避、100/50 保留。
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		MaxAttempts:        3,
		BackoffBase:        time.Second,
		CompletedRetention: 100,
		FailedRetention:    50,
	}
}

const jobKeyPrefix = "job/"

// Queue 持久化任务队列：按 key 去重、指数退避重试、有界保留。
// Badger 负责崩溃恢复，内存索引负责调度；索引变更先写盘再生效。
type Queue struct {
	cfg Config
	db  *badger.DB
	log *logger.Logger
	mon *monitor.Monitor

	mu        sync.Mutex
	records   map[string]*Record // 非终态任务
	ready     []string           // waiting 任务的 FIFO 顺序
	terminal  map[string]*Record // 保留窗口内的终态任务
	completed []string           // 完成顺序，用于裁剪
	failed    []string
	closed    bool

	wake     chan struct{}
	closedCh chan struct{}

	now func() time.Time
}

// Open 打开队列并恢复持久化记录。
// 上次崩溃时处于 active 的任务会回到 waiting 重新调度。
func Open(cfg Config, log *logger.Logger, mon *monitor.Monitor) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = 100
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 50
	}
	bopts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	q := &Queue{
		cfg:      cfg,
		db:       db,
		log:      log,
		mon:      mon,
		records:  make(map[string]*Record),
		terminal: make(map[string]*Record),
		wake:     make(chan struct{}, 1),
		closedCh: make(chan struct{}),
		now:      time.Now,
	}
	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}
	q.pushMetrics()
	if q.log != nil {
		q.log.LogQueue("queue_recovered", q.GetMetrics().logFields())
	}
	return q, nil
}

func (q *Queue) recover() error {
	var recovered []*Record
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode job record: %w", err)
			}
			cp := rec
			recovered = append(recovered, &cp)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(recovered, func(i, j int) bool {
		return recovered[i].EnqueuedAt.Before(recovered[j].EnqueuedAt)
	})
	for _, rec := range recovered {
		switch rec.State {
		case StateActive:
			// 上次进程退出时未执行完，回到 waiting
			rec.State = StateWaiting
			fallthrough
		case StateWaiting:
			q.records[rec.Job.ID] = rec
			q.ready = append(q.ready, rec.Job.ID)
		case StateDelayed:
			q.records[rec.Job.ID] = rec
		case StateCompleted:
			q.terminal[rec.Job.ID] = rec
			q.completed = append(q.completed, rec.Job.ID)
		case StateFailed:
			q.terminal[rec.Job.ID] = rec
			q.failed = append(q.failed, rec.Job.ID)
		}
	}
	// active 状态回滚需要落盘
	return q.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recovered {
			if rec.State != StateWaiting {
				continue
			}
			if err := writeRecord(txn, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeRecord(txn *badger.Txn, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", rec.Job.ID, err)
	}
	return txn.Set([]byte(jobKeyPrefix+rec.Job.ID), raw)
}

func (q *Queue) persist(rec *Record) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return writeRecord(txn, rec)
	})
}

// Enqueue 将任务入队。key 已存在于非终态时为幂等空操作，返回现有记录。
// 底层存储写入失败时返回基础设施错误，任务不会静默丢失。
func (q *Queue) Enqueue(ctx context.Context, job Job) (*Record, error) {
	if job.ID == "" {
		return nil, errors.New("job id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if existing, ok := q.records[job.ID]; ok {
		snap := *existing
		return &snap, nil
	}

	rec := &Record{
		Job:        job,
		State:      StateWaiting,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.persist(rec); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	// 同 key 的终态记录被新任务取代
	if old, ok := q.terminal[job.ID]; ok {
		delete(q.terminal, job.ID)
		if old.State == StateCompleted {
			q.completed = removeID(q.completed, job.ID)
		} else {
			q.failed = removeID(q.failed, job.ID)
		}
	}
	q.records[job.ID] = rec
	q.ready = append(q.ready, job.ID)
	q.signal()
	q.pushMetricsLocked()

	if q.log != nil {
		q.log.LogJob("job_enqueued", job.ID, map[string]interface{}{
			"token_in":  job.TokenIn,
			"token_out": job.TokenOut,
			"amount":    job.Amount,
		})
	}
	snap := *rec
	return &snap, nil
}

// Dequeue 阻塞取出下一个可执行任务并置为 active，尝试次数加一。
// 队列关闭返回 ErrClosed，ctx 取消返回其错误。
func (q *Queue) Dequeue(ctx context.Context) (*Record, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.promoteDueLocked()
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			rec := q.records[id]
			rec.State = StateActive
			rec.Attempts++
			rec.NextRunAt = time.Time{}
			if err := q.persist(rec); err != nil {
				// 回滚调度位置，下一个消费者重试
				rec.State = StateWaiting
				rec.Attempts--
				q.ready = append([]string{id}, q.ready...)
				q.mu.Unlock()
				return nil, fmt.Errorf("activate job %s: %w", id, err)
			}
			q.pushMetricsLocked()
			snap := *rec
			q.mu.Unlock()
			return &snap, nil
		}
		wait := q.nextDueLocked()
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closedCh:
			timer.Stop()
			return nil, ErrClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// promoteDueLocked 把到期的 delayed 任务挪回 waiting。
func (q *Queue) promoteDueLocked() {
	now := q.now()
	for id, rec := range q.records {
		if rec.State != StateDelayed {
			continue
		}
		if rec.NextRunAt.After(now) {
			continue
		}
		rec.State = StateWaiting
		if err := q.persist(rec); err != nil {
			rec.State = StateDelayed
			if q.log != nil {
				q.log.LogError(err, map[string]interface{}{"action": "promote_job", "job_id": id})
			}
			continue
		}
		q.ready = append(q.ready, id)
	}
}

func (q *Queue) nextDueLocked() time.Duration {
	const idleWait = time.Second
	now := q.now()
	wait := idleWait
	for _, rec := range q.records {
		if rec.State != StateDelayed {
			continue
		}
		d := rec.NextRunAt.Sub(now)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		if d < wait {
			wait = d
		}
	}
	return wait
}

// Complete 标记任务执行成功。
func (q *Queue) Complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return ErrUnknownJob
	}
	rec.State = StateCompleted
	rec.FinishedAt = q.now().UTC()
	rec.LastError = ""
	if err := q.persist(rec); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	delete(q.records, id)
	q.terminal[id] = rec
	q.completed = append(q.completed, id)
	q.trimRetentionLocked(&q.completed, q.cfg.CompletedRetention)
	q.pushMetricsLocked()
	return nil
}

// Fail 标记一次失败尝试；尝试次数未耗尽则按指数退避延迟重试，否则终态失败。
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return ErrUnknownJob
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}

	if rec.Attempts < q.cfg.MaxAttempts {
		rec.State = StateDelayed
		rec.NextRunAt = q.now().Add(q.backoff(rec.Attempts))
		if err := q.persist(rec); err != nil {
			return fmt.Errorf("reschedule job %s: %w", id, err)
		}
		if q.mon != nil {
			q.mon.RecordJobRetried()
		}
		if q.log != nil {
			q.log.LogJob("job_retry_scheduled", id, map[string]interface{}{
				"attempt":     rec.Attempts,
				"next_run_at": rec.NextRunAt.UTC().Format(time.RFC3339Nano),
				"cause":       rec.LastError,
			})
		}
		q.signal()
		q.pushMetricsLocked()
		return nil
	}

	rec.State = StateFailed
	rec.FinishedAt = q.now().UTC()
	if err := q.persist(rec); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	delete(q.records, id)
	q.terminal[id] = rec
	q.failed = append(q.failed, id)
	q.trimRetentionLocked(&q.failed, q.cfg.FailedRetention)
	if q.log != nil {
		q.log.LogJob("job_failed_terminal", id, map[string]interface{}{
			"attempts": rec.Attempts,
			"cause":    rec.LastError,
		})
	}
	q.pushMetricsLocked()
	return nil
}

// backoff 第 attempt 次失败后的等待时长：base * 2^(attempt-1)。
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// trimRetentionLocked 裁剪超出保留窗口的终态记录并从盘上删除。
func (q *Queue) trimRetentionLocked(ids *[]string, keep int) {
	for len(*ids) > keep {
		oldest := (*ids)[0]
		*ids = (*ids)[1:]
		delete(q.terminal, oldest)
		err := q.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(jobKeyPrefix + oldest))
		})
		if err != nil && q.log != nil {
			q.log.LogError(err, map[string]interface{}{"action": "trim_job", "job_id": oldest})
		}
	}
}

// Record 返回任务记录快照（含保留窗口内的终态任务）。
func (q *Queue) Record(id string) (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.records[id]; ok {
		snap := *rec
		return &snap, true
	}
	if rec, ok := q.terminal[id]; ok {
		snap := *rec
		return &snap, true
	}
	return nil, false
}

// GetMetrics 返回当前队列深度快照。
func (q *Queue) GetMetrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.metricsLocked()
}

func (q *Queue) metricsLocked() Metrics {
	m := Metrics{
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
	for _, rec := range q.records {
		switch rec.State {
		case StateWaiting:
			m.Waiting++
		case StateActive:
			m.Active++
		case StateDelayed:
			m.Delayed++
		}
	}
	return m
}

func (q *Queue) pushMetrics() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushMetricsLocked()
}

func (q *Queue) pushMetricsLocked() {
	if q.mon == nil {
		return
	}
	m := q.metricsLocked()
	q.mon.UpdateQueueDepth(m.Waiting, m.Active, m.Delayed, m.Completed, m.Failed)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close 有序关闭：拒绝新任务、唤醒阻塞的消费者、关闭底层存储。
// 调用方需先排空在途任务（worker.Pool.Close 负责），再关闭队列。
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	m := q.metricsLocked()
	close(q.closedCh)
	q.mu.Unlock()
	if q.log != nil {
		q.log.LogQueue("queue_closed", m.logFields())
	}
	return q.db.Close()
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
