package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("traceparent"); got != "" {
		t.Fatalf("empty headers: got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("empty headers: got keys %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("carrier must write through to the message header")
	}
}
