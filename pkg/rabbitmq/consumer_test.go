package rabbitmq

import "testing"

func TestRoute(t *testing.T) {
	var seen []string
	handlers := map[string]Handler{
		"payment.settled": func(body []byte) bool {
			seen = append(seen, string(body))
			return true
		},
		"payment.failed": func([]byte) bool { return false },
	}

	if got := route(handlers, "payment.settled", []byte("a")); got != outcomeAck {
		t.Fatalf("expected ack, got %v", got)
	}
	if got := route(handlers, "payment.failed", nil); got != outcomeRequeue {
		t.Fatalf("expected requeue, got %v", got)
	}
	if got := route(handlers, "lease.created", nil); got != outcomeDrop {
		t.Fatalf("expected drop for unbound key, got %v", got)
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("unexpected handler calls %v", seen)
	}
}

func TestConsumeWithBindings_RejectsEmptyBindings(t *testing.T) {
	c := &Consumer{}
	if err := c.ConsumeWithBindings("rental.events", "q", map[string]Handler{"payment.settled": nil}); err == nil {
		t.Fatal("expected error when every handler is nil")
	}
}
