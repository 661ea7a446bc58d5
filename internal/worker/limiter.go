package worker

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter 滑动窗口准入限制：窗口内最多 limit 次任务启动，超出的等待而不是拒绝。
type WindowLimiter struct {
	limit    int
	interval time.Duration

	mu     sync.Mutex
	starts []time.Time
	now    func() time.Time
}

func NewWindowLimiter(limit int, interval time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &WindowLimiter{
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Wait 阻塞直到窗口内有空位，并登记一次启动。
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.interval)
		i := 0
		for i < len(l.starts) && !l.starts[i].After(cutoff) {
			i++
		}
		l.starts = l.starts[i:]

		if len(l.starts) < l.limit {
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return nil
		}
		// 等最老的一次启动滑出窗口
		wait := l.starts[0].Sub(cutoff)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Refund 撤销最近一次登记。调用方在通过 Wait 后没有真正启动任务时
// 调用它归还名额，窗口只统计实际发生的启动。
func (l *WindowLimiter) Refund() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.starts); n > 0 {
		l.starts = l.starts[:n-1]
	}
}

// Pending 返回窗口内已登记的启动次数（测试用）。
func (l *WindowLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.interval)
	n := 0
	for _, ts := range l.starts {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
