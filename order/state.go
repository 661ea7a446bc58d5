package order

import "time"

// Status represents order lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRouting   Status = "ROUTING"
	StatusBuilding  Status = "BUILDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Type 订单类型；当前仅 IMMEDIATE 有执行路径。
type Type string

const (
	TypeImmediate          Type = "IMMEDIATE"
	TypeConditionalLimit   Type = "CONDITIONAL_LIMIT"
	TypeConditionalTrigger Type = "CONDITIONAL_TRIGGER"
)

// ValidType 判断订单类型是否已定义。
func ValidType(t Type) bool {
	switch t {
	case TypeImmediate, TypeConditionalLimit, TypeConditionalTrigger:
		return true
	default:
		return false
	}
}

// Order holds a single swap order record.
// ExecutedPrice/SettlementRef/Venue 在进入 SUBMITTED 时一并写入，之后不再清空。
type Order struct {
	ID            string    `json:"id"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	Amount        float64   `json:"amount"`
	Type          Type      `json:"orderType"`
	Status        Status    `json:"status"`
	ExecutedPrice float64   `json:"executedPrice,omitempty"`
	SettlementRef string    `json:"settlementRef,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	FailReason    string    `json:"failReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
