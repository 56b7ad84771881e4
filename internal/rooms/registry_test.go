package rooms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"storypoints/pkg/types"
)

type recordingObserver struct {
	mu      sync.Mutex
	created []string
	closed  []string
}

func (o *recordingObserver) RoomCreated(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, name)
}

func (o *recordingObserver) RoomClosed(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, name)
}

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock, *recordingObserver) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	observer := &recordingObserver{}
	reg := NewRegistry(Options{Clock: clock, TickInterval: time.Second, Observer: observer})
	t.Cleanup(reg.Close)
	return reg, clock, observer
}

func TestRegistry_GetOrCreateRoom(t *testing.T) {
	reg, _, observer := newTestRegistry(t)

	if reg.HasRoom("sprint1") {
		t.Fatal("registry should start empty")
	}

	first := reg.GetOrCreateRoom("sprint1")
	second := reg.GetOrCreateRoom("sprint1")
	if first != second {
		t.Error("same name should resolve to the same room")
	}
	if other := reg.GetOrCreateRoom("Sprint1"); other == first {
		t.Error("room names are case sensitive")
	}

	if len(observer.created) != 2 {
		t.Errorf("expected 2 creations, got %v", observer.created)
	}
	if rooms, _ := reg.Count(); rooms != 2 {
		t.Errorf("expected 2 rooms, got %d", rooms)
	}
}

func TestRegistry_AcquireExistingDoesNotCreate(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	if _, ok := reg.AcquireExisting("ghost"); ok {
		t.Fatal("AcquireExisting must not create rooms")
	}
	if reg.HasRoom("ghost") {
		t.Error("room should not exist")
	}

	room := reg.Acquire("sprint1")
	room.Unlock()

	again, ok := reg.AcquireExisting("sprint1")
	if !ok || again != room {
		t.Fatal("expected the existing room")
	}
	again.Unlock()
}

func TestRegistry_CleanupIfEmpty(t *testing.T) {
	reg, _, observer := newTestRegistry(t)

	room := reg.Acquire("sprint1")
	if _, err := room.Store.Join("Alice", "", "conn-1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	reg.BindConnection("conn-1", "sprint1")

	if reg.CleanupIfEmpty(room) {
		t.Fatal("room with members must not be cleaned up")
	}

	room.Store.LeaveByName("Alice")
	if !reg.CleanupIfEmpty(room) {
		t.Fatal("empty room should be cleaned up")
	}
	if !room.Closed() {
		t.Error("room should be marked closed")
	}
	if reg.CleanupIfEmpty(room) {
		t.Error("second cleanup should be a no-op")
	}
	room.Unlock()

	if reg.HasRoom("sprint1") {
		t.Error("room should be gone")
	}
	if _, bound := reg.RoomForConnection("conn-1"); bound {
		t.Error("bindings to a closed room should be dropped")
	}
	if len(observer.closed) != 1 || observer.closed[0] != "sprint1" {
		t.Errorf("expected one close notification, got %v", observer.closed)
	}
}

func TestRegistry_CleanupStopsTimer(t *testing.T) {
	updates := make(chan types.TimerState, 16)
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(Options{
		Clock:        clock,
		TickInterval: time.Second,
		OnTimer: func(room string, state types.TimerState) {
			updates <- state
		},
	})
	defer reg.Close()

	room := reg.Acquire("sprint1")
	room.Timer.Start(10)
	room.Unlock()
	<-updates

	clock.Advance(time.Second)
	select {
	case got := <-updates:
		if got.Time != 9 {
			t.Fatalf("expected 9, got %d", got.Time)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	room.Lock()
	if !reg.CleanupIfEmpty(room) {
		t.Fatal("room has no members and should be cleaned up")
	}
	if room.Timer.Ticking() {
		t.Error("cleanup should stop the tick task")
	}
	room.Unlock()

	clock.Advance(3 * time.Second)
	select {
	case got := <-updates:
		t.Fatalf("no tick expected after cleanup, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_AcquireReplacesClosedRoom(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	stale := reg.GetOrCreateRoom("sprint1")
	stale.Lock()
	reg.CleanupIfEmpty(stale)
	stale.Unlock()

	fresh := reg.Acquire("sprint1")
	defer fresh.Unlock()
	if fresh == stale {
		t.Fatal("Acquire returned a closed room")
	}
	if fresh.Closed() {
		t.Error("acquired room should be open")
	}
}

func TestRegistry_ConnectionBindings(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	if _, had := reg.BindConnection("conn-1", "sprint1"); had {
		t.Error("fresh connection should have no previous room")
	}
	previous, had := reg.BindConnection("conn-1", "sprint2")
	if !had || previous != "sprint1" {
		t.Errorf("expected previous room sprint1, got %q %v", previous, had)
	}
	if room, _ := reg.RoomForConnection("conn-1"); room != "sprint2" {
		t.Errorf("expected sprint2, got %q", room)
	}

	room, had := reg.UnbindConnection("conn-1")
	if !had || room != "sprint2" {
		t.Errorf("unbind returned %q %v", room, had)
	}
	if _, had := reg.UnbindConnection("conn-1"); had {
		t.Error("second unbind should report nothing")
	}
}

func TestRegistry_RoomsSummaries(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	for _, name := range []string{"zeta", "alpha"} {
		room := reg.Acquire(name)
		if _, err := room.Store.Join("Alice", "", "conn-"+name, false); err != nil {
			t.Fatalf("join failed: %v", err)
		}
		room.Store.SetSelection("Alice", "5")
		room.Unlock()
	}

	summaries := reg.Rooms()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Name != "alpha" || summaries[1].Name != "zeta" {
		t.Errorf("summaries should be sorted: %+v", summaries)
	}
	if summaries[0].Members != 1 {
		t.Errorf("expected 1 member, got %d", summaries[0].Members)
	}

	if _, err := reg.Summary("missing"); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			conn := fmt.Sprintf("conn-%d", i)
			for j := 0; j < 50; j++ {
				room := reg.Acquire("shared")
				if _, err := room.Store.Join(name, "", conn, false); err != nil {
					t.Errorf("join failed: %v", err)
				}
				room.Unlock()

				room = reg.Acquire("shared")
				room.Store.LeaveByConnection(conn)
				reg.CleanupIfEmpty(room)
				room.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if reg.HasRoom("shared") {
		t.Error("room should be cleaned up once everybody left")
	}
}
