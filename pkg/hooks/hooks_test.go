package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPointValidate(t *testing.T) {
	for _, p := range Points() {
		if err := p.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", p, err)
		}
	}
	if err := Point("on_error").Validate(); err == nil {
		t.Error("expected error for undefined point")
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Snapshot) error { return nil }

	if err := reg.Register(Point("bogus"), "x", noop); err == nil {
		t.Error("expected error for invalid point")
	}
	if err := reg.Register(PointBeforeConnect, "", noop); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register(PointBeforeConnect, "x", nil); err == nil {
		t.Error("expected error for nil callback")
	}
	if reg.Len() != 0 {
		t.Errorf("rejected registrations were stored: %d", reg.Len())
	}
}

func TestDispatchRunsInRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	var ran []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if err := reg.Register(PointBeforeDeploy, name, func(context.Context, Snapshot) error {
			ran = append(ran, name)
			return nil
		}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if err := reg.Dispatch(context.Background(), PointBeforeDeploy, Snapshot{}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(ran) != 3 || ran[0] != "first" || ran[1] != "second" || ran[2] != "third" {
		t.Errorf("hooks ran out of order: %v", ran)
	}
}

func TestAbortFinishesSamePointHooks(t *testing.T) {
	reg := NewRegistry()
	var ran []string

	reg.Register(PointBeforeDeploy, "gate", func(context.Context, Snapshot) error {
		ran = append(ran, "gate")
		return Abortf("maintenance window for %s", "web")
	})
	reg.Register(PointBeforeDeploy, "notify", func(context.Context, Snapshot) error {
		ran = append(ran, "notify")
		return nil
	})

	err := reg.Dispatch(context.Background(), PointBeforeDeploy, Snapshot{})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if !errors.Is(err, ErrAbort) {
		t.Errorf("abort not detectable: %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("abort cut off same-point hooks: ran %v", ran)
	}
}

func TestDispatchStopsOnCanceledContext(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(PointAfterDeploy, "report", func(context.Context, Snapshot) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reg.Dispatch(ctx, PointAfterDeploy, Snapshot{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dispatch error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("hook ran on canceled context")
	}
}

func TestDispatchSetsPointOnSnapshot(t *testing.T) {
	reg := NewRegistry()
	var seen Point
	reg.Register(PointBeforeFacts, "capture", func(_ context.Context, snap Snapshot) error {
		seen = snap.Point
		return nil
	})

	if err := reg.Dispatch(context.Background(), PointBeforeFacts, Snapshot{}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if seen != PointBeforeFacts {
		t.Errorf("snapshot point = %s", seen)
	}
}

func TestNames(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Snapshot) error { return nil }
	reg.Register(PointBeforeConnect, "a", noop)
	reg.Register(PointBeforeConnect, "b", noop)
	reg.Register(PointAfterDeploy, "c", noop)

	names := reg.Names(PointBeforeConnect)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
	if reg.Len() != 3 {
		t.Errorf("Len = %d", reg.Len())
	}
}

func ExampleRegistry_Dispatch() {
	reg := NewRegistry()
	reg.Register(PointBeforeDeploy, "announce", func(_ context.Context, snap Snapshot) error {
		fmt.Printf("deploying to %d hosts\n", len(snap.Hosts))
		return nil
	})

	err := reg.Dispatch(context.Background(), PointBeforeDeploy, Snapshot{
		Hosts: []string{"web-1", "web-2"},
	})
	fmt.Println(err)
	// Output:
	// deploying to 2 hosts
	// <nil>
}
