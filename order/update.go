package order

import "time"

// StatusUpdate 推送给订阅者的状态消息。
// 每个状态只携带对它有意义的字段：SUBMITTED/CONFIRMED 带成交信息，FAILED 带原因。
type StatusUpdate struct {
	OrderID       string  `json:"orderId"`
	Status        Status  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	SettlementRef string  `json:"settlementRef,omitempty"`
	Venue         string  `json:"venue,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Error         string  `json:"error,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// NewUpdate 构造基础状态消息（PENDING/ROUTING/BUILDING）。
func NewUpdate(orderID string, status Status, at time.Time) StatusUpdate {
	return StatusUpdate{
		OrderID:   orderID,
		Status:    status,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewExecutionUpdate 构造带成交信息的消息（SUBMITTED/CONFIRMED 必须携带三元组）。
func NewExecutionUpdate(orderID string, status Status, at time.Time, venue string, price float64, settlementRef string) StatusUpdate {
	u := NewUpdate(orderID, status, at)
	u.Venue = venue
	u.ExecutedPrice = price
	u.SettlementRef = settlementRef
	return u
}

// NewFailedUpdate 构造 FAILED 消息，reason 为人类可读的失败原因。
func NewFailedUpdate(orderID string, at time.Time, reason string) StatusUpdate {
	u := NewUpdate(orderID, StatusFailed, at)
	u.Error = reason
	return u
}

// SnapshotUpdate 根据订单当前记录构造一条快照消息，订阅者接入时先收到它。
func SnapshotUpdate(o *Order, at time.Time) StatusUpdate {
	switch o.Status {
	case StatusSubmitted, StatusConfirmed:
		return NewExecutionUpdate(o.ID, o.Status, at, o.Venue, o.ExecutedPrice, o.SettlementRef)
	case StatusFailed:
		return NewFailedUpdate(o.ID, at, o.FailReason)
	default:
		return NewUpdate(o.ID, o.Status, at)
	}
}
