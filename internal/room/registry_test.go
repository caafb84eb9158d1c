package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistry_GetOrCreateOnce(t *testing.T) {
	reg := newRegistry(8)
	var created atomic.Int32

	var wg sync.WaitGroup
	rooms := make([]*Room, 32)
	for i := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms[i], _ = reg.getOrCreate("doc", func() *Room {
				created.Add(1)
				return &Room{id: "doc"}
			})
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("create called %d times, want 1", created.Load())
	}
	for _, r := range rooms {
		if r != rooms[0] {
			t.Fatal("callers got different rooms")
		}
	}
}

func TestRegistry_RemoveOnlyOwnEntry(t *testing.T) {
	reg := newRegistry(0)
	old := &Room{id: "doc"}
	reg.getOrCreate("doc", func() *Room { return old })
	if !reg.remove("doc", old) {
		t.Fatal("remove() of current entry failed")
	}

	successor := &Room{id: "doc"}
	reg.getOrCreate("doc", func() *Room { return successor })
	if reg.remove("doc", old) {
		t.Error("stale room removed its successor")
	}
	if got, ok := reg.get("doc"); !ok || got != successor {
		t.Error("successor missing")
	}
}

func TestRegistry_CountAndAll(t *testing.T) {
	tests := []struct {
		shards int
		rooms  int
	}{
		{1, 10},
		{16, 100},
		{3, 50}, // not a power of two, falls back to the default
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d shards", tt.shards), func(t *testing.T) {
			reg := newRegistry(tt.shards)
			for i := 0; i < tt.rooms; i++ {
				id := fmt.Sprintf("doc-%d", i)
				reg.getOrCreate(id, func() *Room { return &Room{id: id} })
			}
			if reg.count() != tt.rooms {
				t.Errorf("count() = %d, want %d", reg.count(), tt.rooms)
			}
			seen := make(map[string]bool)
			for _, r := range reg.all() {
				seen[r.id] = true
			}
			if len(seen) != tt.rooms {
				t.Errorf("all() returned %d distinct rooms, want %d", len(seen), tt.rooms)
			}
		})
	}
}
