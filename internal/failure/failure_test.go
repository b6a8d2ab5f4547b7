package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsAreMatchedThroughWrapping(t *testing.T) {
	t.Parallel()

	root := errors.New("conflict")
	err := fmt.Errorf("acknowledge a1: %w", Rejected("update alert", root))
	if !Is(err, KindRejected) {
		t.Fatalf("expected rejected kind, got %v", err)
	}
	if !errors.Is(err, root) {
		t.Fatalf("root cause must stay reachable")
	}
	if !IsPermanent(err) {
		t.Fatalf("rejected failure must be permanent")
	}
	if IsPermanent(Transport("list alerts", root)) {
		t.Fatalf("transport failure must be retryable")
	}
}

func TestMarkKeepsExistingKind(t *testing.T) {
	t.Parallel()

	inner := Rejected("update alert", errors.New("not found"))
	if kind, _ := KindOf(Transport("mutate", inner)); kind != KindRejected {
		t.Fatalf("outer mark must not override inner kind, got %s", kind)
	}
	if Transport("noop", nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}

func TestOffline(t *testing.T) {
	t.Parallel()

	err := Offline("refresh")
	if !Is(err, KindOffline) || !errors.Is(err, ErrOffline) {
		t.Fatalf("unexpected offline error %v", err)
	}
	if err.Error() != "refresh offline: connectivity lost" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
