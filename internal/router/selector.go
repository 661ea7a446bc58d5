package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
)

// Route 路由选择的最终结果。
type Route struct {
	Venue         string
	Price         float64
	NetOut        float64
	SettlementRef string
}

// Config 选择器配置。
type Config struct {
	ExecMinDelay time.Duration // 模拟执行延迟下限
	ExecMaxDelay time.Duration // 模拟执行延迟上限
}

// Selector 并发向所有场所询价并按净产出挑选最优路由。
type Selector struct {
	cfg Config
	log *logger.Logger
	mon *monitor.Monitor

	mu      sync.RWMutex
	sources []QuoteSource

	rng *rand.Rand
	rmu sync.Mutex
}

// NewSelector 创建选择器。
func NewSelector(cfg Config, sources []QuoteSource, log *logger.Logger, mon *monitor.Monitor) (*Selector, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one quote source is required")
	}
	if cfg.ExecMaxDelay < cfg.ExecMinDelay {
		return nil, errors.New("exec delay bounds are invalid")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Selector{
		cfg:     cfg,
		log:     log,
		mon:     mon,
		sources: sources,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// ReplaceSources 整体替换报价源（配置热更新用）。
func (s *Selector) ReplaceSources(sources []QuoteSource) error {
	if len(sources) == 0 {
		return errors.New("at least one quote source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = sources
	return nil
}

// Venues 返回当前配置的场所名。
func (s *Selector) Venues() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, src.Name())
	}
	return names
}

// SelectRoute 并发询价、等所有结果返回后按净产出取胜者，再模拟执行延迟。
// 任一询价失败则整个路由失败。
func (s *Selector) SelectRoute(ctx context.Context, tokenIn, tokenOut string, amount float64) (Route, error) {
	s.mu.RLock()
	sources := make([]QuoteSource, len(s.sources))
	copy(sources, s.sources)
	s.mu.RUnlock()

	start := time.Now()
	type result struct {
		quote Quote
		err   error
	}
	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src QuoteSource) {
			defer wg.Done()
			qStart := time.Now()
			q, err := src.Quote(ctx, tokenIn, tokenOut, amount)
			if s.mon != nil {
				if err != nil {
					s.mon.RecordQuoteError(src.Name())
				} else {
					s.mon.RecordQuote(src.Name(), time.Since(qStart).Seconds())
				}
			}
			results[i] = result{quote: q, err: err}
		}(i, src)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return Route{}, fmt.Errorf("quote failed: %w", r.err)
		}
	}

	best := results[0].quote
	for _, r := range results[1:] {
		best = better(best, r.quote)
	}

	// 模拟执行延迟
	delay := s.execDelay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Route{}, ctx.Err()
		case <-timer.C:
		}
	}

	route := Route{
		Venue:         best.Venue,
		Price:         best.Price,
		NetOut:        best.NetOut,
		SettlementRef: uuid.NewString(),
	}
	elapsed := time.Since(start).Seconds()
	if s.mon != nil {
		s.mon.RecordRouteSelected(route.Venue, elapsed)
	}
	s.log.LogRoute("route_selected", map[string]interface{}{
		"venue":      route.Venue,
		"price":      route.Price,
		"net_out":    route.NetOut,
		"token_in":   tokenIn,
		"token_out":  tokenOut,
		"amount":     amount,
		"elapsed_ms": elapsed * 1000,
	})
	return route, nil
}

// better 比较两个报价：净产出严格更大者胜，打平取第二个操作数。
// 打平偏向 b 是既有行为，调用方依赖它，勿改。
func better(a, b Quote) Quote {
	if a.NetOut > b.NetOut {
		return a
	}
	return b
}

func (s *Selector) execDelay() time.Duration {
	span := s.cfg.ExecMaxDelay - s.cfg.ExecMinDelay
	if span <= 0 {
		return s.cfg.ExecMinDelay
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.cfg.ExecMinDelay + time.Duration(s.rng.Int63n(int64(span)))
}
