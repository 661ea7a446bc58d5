package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"trade-router-go/config"
)

// Quote 一次询价的结果，只在一次路由决策内有效，不缓存、不复用。
type Quote struct {
	Venue       string
	Price       float64
	FeeRate     float64
	NetOut      float64 // amount * price * (1 - fee)
	PriceImpact float64
}

// QuoteSource 向单个场所询价。
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error)
}

// SimulatedVenue 模拟场所：固定网络延迟后返回区间内均匀分布的价格。
type SimulatedVenue struct {
	name    string
	latency time.Duration

	mu       sync.RWMutex
	priceMin float64
	priceMax float64
	feeRate  float64

	rng *rand.Rand
	rmu sync.Mutex
}

// NewSimulatedVenue 按配置创建模拟场所。
func NewSimulatedVenue(cfg config.VenueConfig) *SimulatedVenue {
	return &SimulatedVenue{
		name:     cfg.Name,
		latency:  time.Duration(cfg.QuoteLatencyMs) * time.Millisecond,
		priceMin: cfg.PriceMin,
		priceMax: cfg.PriceMax,
		feeRate:  cfg.FeeRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (v *SimulatedVenue) Name() string { return v.name }

// SetParams 更新报价参数（配置热更新用）。
func (v *SimulatedVenue) SetParams(priceMin, priceMax, feeRate float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.priceMin = priceMin
	v.priceMax = priceMax
	v.feeRate = feeRate
}

// Quote 模拟一次询价：等待固定延迟后返回均匀分布的价格。
func (v *SimulatedVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error) {
	if amount <= 0 {
		return Quote{}, fmt.Errorf("venue %s: amount must be > 0", v.name)
	}
	if v.latency > 0 {
		timer := time.NewTimer(v.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Quote{}, fmt.Errorf("venue %s: %w", v.name, ctx.Err())
		case <-timer.C:
		}
	}

	v.mu.RLock()
	priceMin, priceMax, feeRate := v.priceMin, v.priceMax, v.feeRate
	v.mu.RUnlock()

	price := priceMin + v.float64()*(priceMax-priceMin)
	return Quote{
		Venue:       v.name,
		Price:       price,
		FeeRate:     feeRate,
		NetOut:      EstimatedOutput(amount, price, feeRate),
		PriceImpact: amount / (amount + 1e6),
	}, nil
}

func (v *SimulatedVenue) float64() float64 {
	v.rmu.Lock()
	defer v.rmu.Unlock()
	return v.rng.Float64()
}

// EstimatedOutput 净产出估算：amount * price * (1 - fee)。
func EstimatedOutput(amount, price, feeRate float64) float64 {
	return amount * price * (1 - feeRate)
}
