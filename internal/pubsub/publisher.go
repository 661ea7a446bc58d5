package pubsub

import (
	"sync"

	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
	"trade-router-go/order"
)

// Subscriber 单个订单的状态推送通道。
// Send 在通道不可写时必须返回错误，Publisher 据此把它从注册表剔除。
type Subscriber interface {
	Send(u order.StatusUpdate) error
	Close() error
}

// Publisher 订单状态发布器。
// 注册表是核心里唯一被多条订单流水线共享的可变状态，
// 所有操作都在同一把锁下完成。每个订单最多挂一个订阅者。
type Publisher struct {
	mu   sync.Mutex
	subs map[string]Subscriber

	log *logger.Logger
	mon *monitor.Monitor
}

// NewPublisher 创建发布器。
func NewPublisher(log *logger.Logger, mon *monitor.Monitor) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{
		subs: make(map[string]Subscriber),
		log:  log,
		mon:  mon,
	}
}

// Register 为订单挂上订阅者；同一订单再次注册会关闭并替换旧的。
func (p *Publisher) Register(orderID string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.subs[orderID]; ok {
		old.Close()
	}
	p.subs[orderID] = sub
	p.syncGaugeLocked()
}

// Unregister 关闭并移除订单的订阅者。
func (p *Publisher) Unregister(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[orderID]; ok {
		sub.Close()
		delete(p.subs, orderID)
		p.syncGaugeLocked()
	}
}

// Release 只在当前注册的还是同一个订阅者时才移除它。
// 传输层的读循环在连接断开时调用；若期间已被新连接替换则不动注册表。
func (p *Publisher) Release(orderID string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.subs[orderID]; ok && cur == sub {
		cur.Close()
		delete(p.subs, orderID)
		p.syncGaugeLocked()
	}
}

// Publish 向订单的订阅者推送一条状态消息。
// 没有订阅者时静默返回；写失败的订阅者被关闭并移除。
// 写操作在锁外进行：单个阻塞的订阅者只拖慢自己订单的推送，
// 不影响其他订单，也不影响注册表的读写。
func (p *Publisher) Publish(orderID string, u order.StatusUpdate) {
	p.mu.Lock()
	sub, ok := p.subs[orderID]
	p.mu.Unlock()
	if !ok {
		if p.mon != nil {
			p.mon.RecordUpdateDropped()
		}
		return
	}
	if err := sub.Send(u); err != nil {
		// 写期间可能已被新连接替换，只剔除仍在注册表里的同一个订阅者
		p.Release(orderID, sub)
		if p.mon != nil {
			p.mon.RecordUpdateDropped()
		}
		p.log.LogOrder("subscriber_pruned", orderID, map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}
	if p.mon != nil {
		p.mon.RecordUpdatePublished()
	}
}

// Broadcast 向所有订阅者推送同一条消息，写失败的一并剔除。
// 先在锁内拍快照，写全部发生在锁外。
func (p *Publisher) Broadcast(u order.StatusUpdate) {
	type entry struct {
		id  string
		sub Subscriber
	}
	p.mu.Lock()
	snapshot := make([]entry, 0, len(p.subs))
	for id, sub := range p.subs {
		snapshot = append(snapshot, entry{id: id, sub: sub})
	}
	p.mu.Unlock()

	for _, e := range snapshot {
		if err := e.sub.Send(u); err != nil {
			p.Release(e.id, e.sub)
			if p.mon != nil {
				p.mon.RecordUpdateDropped()
			}
			continue
		}
		if p.mon != nil {
			p.mon.RecordUpdatePublished()
		}
	}
}

// Count 返回当前订阅者数量。
func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Has 判断订单是否有订阅者。
func (p *Publisher) Has(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subs[orderID]
	return ok
}

// Close 关闭所有订阅者并清空注册表。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		sub.Close()
		delete(p.subs, id)
	}
	p.syncGaugeLocked()
	return nil
}

func (p *Publisher) syncGaugeLocked() {
	if p.mon != nil {
		p.mon.SetActiveSubscribers(len(p.subs))
	}
}
