package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
	"trade-router-go/internal/queue"
	"trade-router-go/internal/router"
	"trade-router-go/internal/store"
	"trade-router-go/order"
)

// ErrOrderTerminal 任务重试时发现订单记录已处于终态。
var ErrOrderTerminal = errors.New("order already in terminal state")

// Publisher 驱动器只需要发布能力，注册与剔除由传输层负责。
type Publisher interface {
	Publish(orderID string, u order.StatusUpdate)
}

// Config 驱动器配置。
type Config struct {
	ConfirmationDelay time.Duration // 模拟链上确认间隔
}

// Driver 驱动单个订单走完生命周期。
// 对同一任务的一次 attempt 恰好执行一次；状态转换全部经过状态机校验。
type Driver struct {
	cfg      Config
	store    store.Store
	sm       *order.StateMachine
	selector *router.Selector
	pub      Publisher
	log      *logger.Logger
	mon      *monitor.Monitor
	now      func() time.Time
}

// New 创建驱动器。
func New(cfg Config, st store.Store, selector *router.Selector, pub Publisher, log *logger.Logger, mon *monitor.Monitor) *Driver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Driver{
		cfg:      cfg,
		store:    st,
		sm:       order.NewStateMachine(),
		selector: selector,
		pub:      pub,
		log:      log,
		mon:      mon,
		now:      time.Now,
	}
}

// Execute 执行一次订单流水线 attempt。
//
// 订单记录已是终态时返回包裹了 ErrUnretryable 的错误，工作池据此
// 直接按完成处理，不再消耗重试次数。这样队列层的 attempt 重试
// 永远不会重新驱动一个域层已经定论的订单。
func (d *Driver) Execute(ctx context.Context, job queue.Job) error {
	o, err := d.store.FindByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 记录不存在，没有可以标记 FAILED 的对象，
			// 只给订阅者一个终态信号后把错误交还队列。
			if d.pub != nil {
				d.pub.Publish(job.ID, order.NewFailedUpdate(job.ID, d.now(), "order record not found"))
			}
			return fmt.Errorf("load order %s: %w", job.ID, err)
		}
		return fmt.Errorf("load order %s: %w", job.ID, err)
	}

	if d.sm.IsTerminal(o.Status) {
		return fmt.Errorf("%w: %w: order %s is %s", queue.ErrUnretryable, ErrOrderTerminal, o.ID, o.Status)
	}

	if err := d.advance(ctx, o, order.StatusRouting); err != nil {
		return d.markFailed(ctx, o, err)
	}

	if err := d.advance(ctx, o, order.StatusBuilding); err != nil {
		return d.markFailed(ctx, o, err)
	}

	route, err := d.selector.SelectRoute(ctx, o.TokenIn, o.TokenOut, o.Amount)
	if err != nil {
		return d.markFailed(ctx, o, fmt.Errorf("route selection: %w", err))
	}

	o.ExecutedPrice = route.Price
	o.Venue = route.Venue
	o.SettlementRef = route.SettlementRef
	if err := d.advance(ctx, o, order.StatusSubmitted); err != nil {
		return d.markFailed(ctx, o, err)
	}

	if err := d.waitConfirmation(ctx); err != nil {
		return d.markFailed(ctx, o, fmt.Errorf("confirmation wait: %w", err))
	}

	if err := d.advance(ctx, o, order.StatusConfirmed); err != nil {
		return d.markFailed(ctx, o, err)
	}

	if d.mon != nil {
		d.mon.RecordOrderConfirmed()
	}
	d.log.LogOrder("order_confirmed", o.ID, map[string]interface{}{
		"venue":          o.Venue,
		"executed_price": o.ExecutedPrice,
		"settlement_ref": o.SettlementRef,
	})
	return nil
}

// advance 校验并持久化一次状态转换，然后向订阅者推送对应变体的消息。
func (d *Driver) advance(ctx context.Context, o *order.Order, to order.Status) error {
	if err := d.sm.ValidateTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	if err := d.store.Update(ctx, o); err != nil {
		return fmt.Errorf("persist %s: %w", to, err)
	}

	at := d.now()
	var u order.StatusUpdate
	switch to {
	case order.StatusSubmitted, order.StatusConfirmed:
		u = order.NewExecutionUpdate(o.ID, to, at, o.Venue, o.ExecutedPrice, o.SettlementRef)
	default:
		u = order.NewUpdate(o.ID, to, at)
	}
	if d.pub != nil {
		d.pub.Publish(o.ID, u)
	}
	d.log.LogOrder("order_transition", o.ID, map[string]interface{}{
		"status": string(to),
	})
	return nil
}

// markFailed 把订单转入 FAILED、推送带原因的消息，然后把原始错误
// 交还队列层做 attempt 计账。持久化失败只记日志，原始错误优先。
func (d *Driver) markFailed(ctx context.Context, o *order.Order, cause error) error {
	o.Status = order.StatusFailed
	o.FailReason = cause.Error()
	if err := d.store.Update(ctx, o); err != nil {
		d.log.LogError(err, map[string]interface{}{
			"action":   "persist_failed_status",
			"order_id": o.ID,
		})
	}
	if d.pub != nil {
		d.pub.Publish(o.ID, order.NewFailedUpdate(o.ID, d.now(), cause.Error()))
	}
	if d.mon != nil {
		d.mon.RecordOrderFailed()
	}
	d.log.LogOrder("order_failed", o.ID, map[string]interface{}{
		"cause": cause.Error(),
	})
	return cause
}

func (d *Driver) waitConfirmation(ctx context.Context) error {
	if d.cfg.ConfirmationDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.cfg.ConfirmationDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
