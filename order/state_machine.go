package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 成功路径严格单向
		{StatusPending, StatusRouting},
		{StatusRouting, StatusBuilding},
		{StatusBuilding, StatusSubmitted},
		{StatusSubmitted, StatusConfirmed},

		// 任意非终态都可进入 FAILED
		{StatusPending, StatusFailed},
		{StatusRouting, StatusFailed},
		{StatusBuilding, StatusFailed},
		{StatusSubmitted, StatusFailed},

		// 终态不能转换（CONFIRMED, FAILED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}

	transition := StateTransition{From: from, To: to}
	if !sm.transitions[transition] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}

	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	allowed := make([]Status, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsTerminal 判断是否是终态
func (sm *StateMachine) IsTerminal(status Status) bool {
	switch status {
	case StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// Rank 返回状态在成功路径上的序号，FAILED 返回 -1。
// 用于校验同一订单的状态流严格递增。
func Rank(status Status) int {
	switch status {
	case StatusPending:
		return 0
	case StatusRouting:
		return 1
	case StatusBuilding:
		return 2
	case StatusSubmitted:
		return 3
	case StatusConfirmed:
		return 4
	default:
		return -1
	}
}
