package process

import (
	"os"
	"testing"
	"time"
)

func TestRegistry_RegisterAndAtCapacity(t *testing.T) {
	r := NewRegistry(2)
	if err := r.Register(100, "shell"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(101, "browser"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.AtCapacity() {
		t.Fatalf("expected registry to report at capacity")
	}
	if err := r.Register(102, "shell"); err == nil {
		t.Fatalf("expected registration to fail once at capacity")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(1)
	_ = r.Register(200, "shell")
	r.Unregister(200)
	if r.AtCapacity() {
		t.Fatalf("expected room after unregistering")
	}
	if err := r.Register(201, "shell"); err != nil {
		t.Fatalf("expected registration to succeed after freeing capacity: %v", err)
	}
}

func TestRegistry_ReapExpired(t *testing.T) {
	r := NewRegistry(0)
	_ = r.Register(os.Getpid(), "self")
	r.entries[os.Getpid()] = Entry{PID: os.Getpid(), Purpose: "self", CreatedAt: time.Now().Add(-time.Hour)}

	reaped := r.ReapExpired(time.Minute)
	if len(reaped) != 1 {
		t.Fatalf("expected 1 reaped entry, got %d", len(reaped))
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("expected registry to be empty after reaping")
	}
}

func TestRegistry_CleanupDead(t *testing.T) {
	r := NewRegistry(0)
	// A pid that is extremely unlikely to be alive.
	const deadPid = 999999
	r.entries[deadPid] = Entry{PID: deadPid, Purpose: "ghost", CreatedAt: time.Now()}
	_ = r.Register(os.Getpid(), "self")

	pruned := r.CleanupDead()
	if len(pruned) != 1 || pruned[0].PID != deadPid {
		t.Fatalf("expected only the dead pid to be pruned, got %+v", pruned)
	}
	if len(r.Snapshot()) != 1 {
		t.Fatalf("expected the live pid to remain, got %+v", r.Snapshot())
	}
}
