package rabbitmq

import "testing"

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"processor.charge.*", "processor.charge.succeeded", true},
		{"processor.charge.*", "processor.charge", false},
		{"processor.charge.*", "processor.charge.succeeded.retry", false},
		{"processor.charge.*", "processor.payout.failed", false},
		{"processor.#", "processor.payout.failed", true},
		{"processor.#", "processor", true},
		{"#.failed", "processor.charge.failed", true},
		{"#", "anything.at.all", true},
		{"*.charge.*", "processor.charge.pending", true},
		{"processor.charge.succeeded", "processor.charge.succeeded", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			if got := topicMatch(tt.pattern, tt.key); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRoutePrefersExactKey(t *testing.T) {
	var hit string
	routes := []binding{
		{pattern: "processor.charge.*", handler: func([]byte) bool { hit = "pattern"; return true }},
		{pattern: "processor.charge.failed", handler: func([]byte) bool { hit = "exact"; return true }},
	}

	route(routes, "processor.charge.failed")(nil)
	if hit != "exact" {
		t.Fatalf("expected exact handler, got %q", hit)
	}
	route(routes, "processor.charge.succeeded")(nil)
	if hit != "pattern" {
		t.Fatalf("expected pattern handler, got %q", hit)
	}
	if route(routes, "wallet.transaction.completed") != nil {
		t.Fatal("expected no handler for unbound key")
	}
}
