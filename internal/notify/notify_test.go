package notify

import (
	"context"
	"testing"
)

func TestNoOp_PublishNeverErrors(t *testing.T) {
	var n Notifier = NoOp{}
	if err := n.Publish(context.Background(), EventTaskCreated, "t1", ""); err != nil {
		t.Fatalf("expected NoOp.Publish to never error, got %v", err)
	}
}

func TestPayload_MarshalsExpectedFields(t *testing.T) {
	p := Payload{Event: EventTaskError, TaskID: "t1", Reason: "bad signer"}
	if p.Event != EventTaskError || p.TaskID != "t1" || p.Reason != "bad signer" {
		t.Fatalf("unexpected payload contents: %+v", p)
	}
}
