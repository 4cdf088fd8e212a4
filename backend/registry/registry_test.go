package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/twinlens/twinlens/backend/model"
)

func TestJoinAssignsIndexesInArrivalOrder(t *testing.T) {
	reg := New()

	a, count, err := reg.Join("R1", model.NewWire(), nil)
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if a.Index != 0 || count != 1 {
		t.Fatalf("first join: got index=%d count=%d, want 0/1", a.Index, count)
	}

	b, count, err := reg.Join("R1", model.NewWire(), nil)
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if b.Index != 1 || count != 2 {
		t.Fatalf("second join: got index=%d count=%d, want 1/2", b.Index, count)
	}
	if a.ID == b.ID {
		t.Fatalf("peer ids collide: %s", a.ID)
	}

	_, count, err = reg.Join("R1", model.NewWire(), nil)
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join: got err=%v, want ErrRoomFull", err)
	}
	if count != 2 {
		t.Fatalf("rejected join reported count=%d, want 2", count)
	}
}

func TestJoinConcurrentNeverExceedsTwoPeers(t *testing.T) {
	const (
		rooms   = 10
		joiners = 20
	)
	reg := New()

	var wg sync.WaitGroup
	type result struct {
		room string
		pc   *PeerConnection
	}
	results := make(chan result, rooms*joiners)

	for r := 0; r < rooms; r++ {
		roomID := string(rune('A' + r))
		for j := 0; j < joiners; j++ {
			wg.Add(1)
			go func(roomID string) {
				defer wg.Done()
				pc, _, err := reg.Join(roomID, model.NewWire(), nil)
				if err == nil {
					results <- result{room: roomID, pc: pc}
				}
			}(roomID)
		}
	}
	wg.Wait()
	close(results)

	indexes := make(map[string][]int)
	for res := range results {
		indexes[res.room] = append(indexes[res.room], res.pc.Index)
	}
	for room, idx := range indexes {
		if len(idx) != 2 {
			t.Fatalf("room %s admitted %d peers: %s", room, len(idx), spew.Sdump(idx))
		}
		if !(idx[0] == 0 && idx[1] == 1 || idx[0] == 1 && idx[1] == 0) {
			t.Fatalf("room %s indexes are not {0,1}: %s", room, spew.Sdump(idx))
		}
		st, ok := reg.Snapshot(room)
		if !ok || st.PeerCount != 2 || !st.Full {
			t.Fatalf("room %s snapshot wrong: %s", room, spew.Sdump(st))
		}
	}
}

func TestJoinAnnounceObservesTheMutation(t *testing.T) {
	reg := New()

	var gotPC *PeerConnection
	var gotCount int
	pc, count, err := reg.Join("R1", model.NewWire(), func(pc *PeerConnection, peersCount int) {
		gotPC = pc
		gotCount = peersCount
	})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if gotPC != pc || gotCount != count {
		t.Fatalf("announce saw pc=%v count=%d, join returned pc=%v count=%d",
			gotPC, gotCount, pc, count)
	}

	// A rejected join must not announce anything.
	reg.Join("R1", model.NewWire(), nil)
	called := false
	_, _, err = reg.Join("R1", model.NewWire(), func(*PeerConnection, int) { called = true })
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join err = %v, want ErrRoomFull", err)
	}
	if called {
		t.Fatal("announce fired for a rejected join")
	}
}

func TestLeaveDeletesDrainedRoom(t *testing.T) {
	reg := New()

	a, _, _ := reg.Join("R1", model.NewWire(), nil)
	b, _, _ := reg.Join("R1", model.NewWire(), nil)

	remaining := reg.Leave("R1", a.ID)
	if len(remaining) != 1 || remaining[0].ID != b.ID {
		t.Fatalf("leave: remaining peers wrong: %s", spew.Sdump(remaining))
	}
	if _, ok := reg.Snapshot("R1"); !ok {
		t.Fatal("room vanished while still occupied")
	}

	remaining = reg.Leave("R1", b.ID)
	if len(remaining) != 0 {
		t.Fatalf("leave: expected empty, got %s", spew.Sdump(remaining))
	}
	if _, ok := reg.Snapshot("R1"); ok {
		t.Fatal("drained room still present in registry")
	}

	// Seat is reusable after a leave.
	c, count, err := reg.Join("R1", model.NewWire(), nil)
	if err != nil || c.Index != 0 || count != 1 {
		t.Fatalf("rejoin after drain: pc=%v count=%d err=%v", c, count, err)
	}
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	reg := New()
	if remaining := reg.Leave("nope", "whatever"); remaining != nil {
		t.Fatalf("leave on unknown room returned peers: %s", spew.Sdump(remaining))
	}

	reg.Join("R1", model.NewWire(), nil)
	if remaining := reg.Leave("R1", "not-a-peer"); len(remaining) != 1 {
		t.Fatalf("leave with unknown peer mutated room: %s", spew.Sdump(remaining))
	}
}

func TestGetOrCreateKeepsCreationTime(t *testing.T) {
	reg := New()
	t0 := time.Now()
	reg.now = func() time.Time { return t0 }

	st := reg.GetOrCreate("R1")
	if st.PeerCount != 0 || st.Full {
		t.Fatalf("fresh room not empty: %s", spew.Sdump(st))
	}
	if !st.CreatedAt.Equal(t0) {
		t.Fatalf("createdAt = %v, want %v", st.CreatedAt, t0)
	}

	reg.now = func() time.Time { return t0.Add(time.Hour) }
	st = reg.GetOrCreate("R1")
	if !st.CreatedAt.Equal(t0) {
		t.Fatalf("createdAt rewritten on second touch: %v", st.CreatedAt)
	}
}

func TestListAllAndRemove(t *testing.T) {
	reg := New()
	reg.GetOrCreate("A")
	reg.Join("B", model.NewWire(), nil)

	if got := len(reg.ListAll()); got != 2 {
		t.Fatalf("ListAll len = %d, want 2", got)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}

	// Remove bypasses the peer-count check.
	reg.Remove("B")
	if _, ok := reg.Snapshot("B"); ok {
		t.Fatal("removed room still present")
	}
	if reg.Len() != 1 {
		t.Fatalf("Len after remove = %d, want 1", reg.Len())
	}
}

func TestNewRoomIDShape(t *testing.T) {
	reg := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := reg.NewRoomID()
		if len(id) != 8 {
			t.Fatalf("room id %q is not 8 chars", id)
		}
		for _, c := range id {
			if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c == '-') {
				t.Fatalf("room id %q has unexpected char %q", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate room id %q", id)
		}
		seen[id] = true
	}
}
