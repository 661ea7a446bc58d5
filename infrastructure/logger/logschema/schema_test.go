package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("route_event", map[string]interface{}{
		"event": "route_selected",
		"venue": "UniswapV3",
		"price": 1850.25,
	})
	if err != nil {
		t.Fatalf("expected valid fields, got %v", err)
	}
}

func TestValidateQueueEvent(t *testing.T) {
	// 与 queue 的 Open/Close 发出的深度字段保持一致
	err := Validate("queue_event", map[string]interface{}{
		"event":     "queue_recovered",
		"waiting":   2,
		"active":    0,
		"delayed":   1,
		"completed": 4,
		"failed":    0,
	})
	if err != nil {
		t.Fatalf("expected valid fields, got %v", err)
	}

	err = Validate("queue_event", map[string]interface{}{"event": "queue_closed"})
	if err == nil {
		t.Fatalf("expected missing depth fields error")
	}
}

func TestValidateMissing(t *testing.T) {
	err := Validate("job_event", map[string]interface{}{
		"event": "job_completed",
	})
	if err == nil {
		t.Fatalf("expected missing-field error")
	}
}

func TestValidateUnknownEventIsIgnored(t *testing.T) {
	if err := Validate("no_such_event", nil); err != nil {
		t.Fatalf("unknown events should pass: %v", err)
	}
}
