package order

import "testing"

func TestValidateTransitionSuccessPath(t *testing.T) {
	sm := NewStateMachine()
	path := []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}
	for i := 0; i < len(path)-1; i++ {
		if err := sm.ValidateTransition(path[i], path[i+1]); err != nil {
			t.Fatalf("transition %s -> %s should be legal: %v", path[i], path[i+1], err)
		}
	}
}

func TestValidateTransitionRejectsSkips(t *testing.T) {
	sm := NewStateMachine()
	cases := []StateTransition{
		{StatusPending, StatusBuilding},
		{StatusRouting, StatusSubmitted},
		{StatusBuilding, StatusConfirmed},
		{StatusSubmitted, StatusRouting},
	}
	for _, c := range cases {
		if err := sm.ValidateTransition(c.From, c.To); err == nil {
			t.Fatalf("transition %s -> %s should be illegal", c.From, c.To)
		}
	}
}

func TestFailedReachableFromAnyNonTerminal(t *testing.T) {
	sm := NewStateMachine()
	for _, from := range []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted} {
		if err := sm.ValidateTransition(from, StatusFailed); err != nil {
			t.Fatalf("%s -> FAILED should be legal: %v", from, err)
		}
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	sm := NewStateMachine()
	for _, from := range []Status{StatusConfirmed, StatusFailed} {
		if !sm.IsTerminal(from) {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted} {
			if err := sm.ValidateTransition(from, to); err == nil {
				t.Fatalf("transition %s -> %s should be illegal", from, to)
			}
		}
	}
	// FAILED -> CONFIRMED 也不允许
	if err := sm.ValidateTransition(StatusFailed, StatusConfirmed); err == nil {
		t.Fatalf("FAILED -> CONFIRMED should be illegal")
	}
}

func TestValidateTransitionIdempotent(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.ValidateTransition(StatusRouting, StatusRouting); err != nil {
		t.Fatalf("same-state transition should be allowed: %v", err)
	}
}

func TestRankStrictlyIncreasesAlongPipeline(t *testing.T) {
	path := []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}
	for i := 0; i < len(path)-1; i++ {
		if Rank(path[i]) >= Rank(path[i+1]) {
			t.Fatalf("rank of %s should be below %s", path[i], path[i+1])
		}
	}
	if Rank(StatusFailed) != -1 {
		t.Fatalf("FAILED has no pipeline rank")
	}
}
