package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"storypoints/pkg/types"
)

type harness struct {
	mu      sync.Mutex
	clock   *clockwork.FakeClock
	updates chan types.TimerState
	c       *Countdown
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClock(),
		updates: make(chan types.TimerState, 64),
	}
	h.c = New(&h.mu, h.clock, time.Second, "test-room", func(s types.TimerState) {
		h.updates <- s
	})
	t.Cleanup(func() {
		h.mu.Lock()
		h.c.Stop()
		h.mu.Unlock()
	})
	return h
}

// do runs fn with the room lock held, like the gateway does.
func (h *harness) do(fn func(c *Countdown)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.c)
}

func (h *harness) state() types.TimerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.State()
}

func (h *harness) expectUpdate(t *testing.T, want types.TimerState) {
	t.Helper()
	select {
	case got := <-h.updates:
		if got != want {
			t.Fatalf("expected update %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update %+v", want)
	}
}

func (h *harness) expectNoUpdate(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.updates:
		t.Fatalf("expected no update, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// tick advances the fake clock by one interval and waits for the resulting update.
func (h *harness) tick(t *testing.T, want types.TimerState) {
	t.Helper()
	h.clock.Advance(time.Second)
	h.expectUpdate(t, want)
}

func TestCountdown_StartsIdle(t *testing.T) {
	h := newHarness(t)

	if got := h.state(); got != (types.TimerState{}) {
		t.Errorf("expected zero state, got %+v", got)
	}
	h.do(func(c *Countdown) {
		if c.Phase() != Idle {
			t.Errorf("expected idle, got %s", c.Phase())
		}
		if c.Ticking() {
			t.Error("idle countdown should not tick")
		}
	})
}

func TestCountdown_StartAndTick(t *testing.T) {
	h := newHarness(t)

	h.do(func(c *Countdown) {
		if !c.Start(10) {
			t.Fatal("start from idle should apply")
		}
	})
	h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})

	h.tick(t, types.TimerState{Time: 9, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 8, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 7, ShowTimer: true})

	if got := h.state(); got.Time != 7 {
		t.Errorf("expected 7 seconds left, got %d", got.Time)
	}
}

func TestCountdown_StartWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) { c.Start(10) })
	h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})

	h.do(func(c *Countdown) {
		if c.Start(30) {
			t.Error("start while running should be ignored")
		}
	})
	h.expectNoUpdate(t)

	if got := h.state(); got.Time != 10 {
		t.Errorf("state should be unchanged, got %+v", got)
	}

	h.do(func(c *Countdown) { c.Pause() })
	h.expectUpdate(t, types.TimerState{Time: 10, Paused: true, ShowTimer: true})
	h.do(func(c *Countdown) {
		if c.Start(30) {
			t.Error("start while paused should be ignored")
		}
	})
	h.expectNoUpdate(t)
}

func TestCountdown_PauseAndContinue(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) { c.Start(10) })
	h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 9, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 8, ShowTimer: true})

	h.do(func(c *Countdown) {
		if !c.Pause() {
			t.Fatal("pause while running should apply")
		}
		if c.Ticking() {
			t.Error("paused countdown should not tick")
		}
	})
	h.expectUpdate(t, types.TimerState{Time: 8, Paused: true, ShowTimer: true})

	// Time passing while paused changes nothing.
	h.clock.Advance(5 * time.Second)
	h.expectNoUpdate(t)

	h.do(func(c *Countdown) {
		if c.Pause() {
			t.Error("pause while paused should be ignored")
		}
		if !c.Continue() {
			t.Fatal("continue while paused should apply")
		}
	})
	h.expectUpdate(t, types.TimerState{Time: 8, ShowTimer: true})

	h.tick(t, types.TimerState{Time: 7, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 6, ShowTimer: true})
}

func TestCountdown_ContinueRequiresPause(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) {
		if c.Continue() {
			t.Error("continue while idle should be ignored")
		}
		c.Start(5)
	})
	h.expectUpdate(t, types.TimerState{Time: 5, ShowTimer: true})
	h.do(func(c *Countdown) {
		if c.Continue() {
			t.Error("continue while running should be ignored")
		}
	})
	h.expectNoUpdate(t)
}

func TestCountdown_StopsAtZero(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) { c.Start(2) })
	h.expectUpdate(t, types.TimerState{Time: 2, ShowTimer: true})

	h.tick(t, types.TimerState{Time: 1, ShowTimer: true})
	h.tick(t, types.TimerState{Time: 0, ShowTimer: true})

	h.do(func(c *Countdown) {
		if c.Ticking() {
			t.Error("countdown should stop ticking at zero")
		}
		if c.Phase() != Running {
			t.Errorf("countdown at zero stays visible, got %s", c.Phase())
		}
	})

	h.clock.Advance(3 * time.Second)
	h.expectNoUpdate(t)
	if got := h.state(); got.Time != 0 {
		t.Errorf("time must never go negative, got %d", got.Time)
	}
}

func TestCountdown_StartZero(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) {
		if !c.Start(0) {
			t.Fatal("start(0) from idle should apply")
		}
		if c.Ticking() {
			t.Error("start(0) should not schedule ticks")
		}
	})
	h.expectUpdate(t, types.TimerState{Time: 0, ShowTimer: true})
	h.clock.Advance(time.Second)
	h.expectNoUpdate(t)
}

func TestCountdown_HardResetFromEveryPhase(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness, t *testing.T)
	}{
		{
			name:  "idle",
			setup: func(h *harness, t *testing.T) {},
		},
		{
			name: "running",
			setup: func(h *harness, t *testing.T) {
				h.do(func(c *Countdown) { c.Start(10) })
				h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})
			},
		},
		{
			name: "paused",
			setup: func(h *harness, t *testing.T) {
				h.do(func(c *Countdown) { c.Start(10); c.Pause() })
				h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})
				h.expectUpdate(t, types.TimerState{Time: 10, Paused: true, ShowTimer: true})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h, t)

			h.do(func(c *Countdown) { c.HardReset() })
			h.expectUpdate(t, types.TimerState{})

			h.do(func(c *Countdown) {
				if c.Ticking() || c.Phase() != Idle {
					t.Errorf("expected idle without ticking, got %s ticking=%v", c.Phase(), c.Ticking())
				}
			})
			h.clock.Advance(2 * time.Second)
			h.expectNoUpdate(t)
		})
	}
}

func TestCountdown_ResetIgnoresIdle(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) {
		if c.Reset() {
			t.Error("reset while idle should be ignored")
		}
	})
	h.expectNoUpdate(t)

	h.do(func(c *Countdown) { c.Start(4) })
	h.expectUpdate(t, types.TimerState{Time: 4, ShowTimer: true})
	h.do(func(c *Countdown) {
		if !c.Reset() {
			t.Error("reset while running should apply")
		}
	})
	h.expectUpdate(t, types.TimerState{})
}

func TestCountdown_StopIsSilent(t *testing.T) {
	h := newHarness(t)
	h.do(func(c *Countdown) { c.Start(10) })
	h.expectUpdate(t, types.TimerState{Time: 10, ShowTimer: true})

	h.do(func(c *Countdown) {
		c.Stop()
		if c.Ticking() {
			t.Error("stop should cancel the tick task")
		}
	})
	h.expectNoUpdate(t)
	h.clock.Advance(2 * time.Second)
	h.expectNoUpdate(t)
}

func TestPhase_String(t *testing.T) {
	for phase, want := range map[Phase]string{Idle: "idle", Running: "running", Paused: "paused", Phase(9): "unknown"} {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}
