package ctl_test

import (
	"context"
	"testing"

	"github.com/streamrec/streamrec/internal/ctl"
	"github.com/streamrec/streamrec/internal/stream"
)

const key = "recording:name"

func TestStartStopCurrent(t *testing.T) {
	mem := stream.NewMemory()
	ctx := context.Background()

	// Nothing signaled yet.
	name, id, err := ctl.Current(ctx, mem, key)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if name != "" || !id.IsZero() {
		t.Fatalf("Current() on empty control = %q at %s", name, id)
	}

	startID, err := ctl.Start(ctx, mem, key, "run1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	name, id, err = ctl.Current(ctx, mem, key)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if name != "run1" || id != startID {
		t.Fatalf("Current() = %q at %s, want run1 at %s", name, id, startID)
	}

	stopID, err := ctl.Stop(ctx, mem, key)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	name, id, err = ctl.Current(ctx, mem, key)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if name != "" || id != stopID {
		t.Fatalf("Current() after stop = %q at %s, want idle at %s", name, id, stopID)
	}
}

func TestStartRejectsEmptyName(t *testing.T) {
	if _, err := ctl.Start(context.Background(), stream.NewMemory(), key, ""); err == nil {
		t.Fatal("Start() accepted an empty session name")
	}
}

func TestCurrentReturnsLatestSignalOnly(t *testing.T) {
	mem := stream.NewMemory()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := ctl.Start(ctx, mem, key, name); err != nil {
			t.Fatalf("Start(%s) error = %v", name, err)
		}
	}

	name, _, err := ctl.Current(ctx, mem, key)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if name != "c" {
		t.Fatalf("Current() = %q, want c", name)
	}
}
