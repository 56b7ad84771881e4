package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"storypoints/pkg/types"
)

// DefaultInterval is how often a running countdown ticks.
const DefaultInterval = time.Second

// Phase is the state machine position of a Countdown.
type Phase int

const (
	Idle Phase = iota
	Running
	Paused
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// NotifyFunc receives the timer state after every transition and tick. It is called
// with the room lock held and must not block.
type NotifyFunc func(types.TimerState)

// tickTask is the handle of one scheduled tick loop.
type tickTask struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

// Countdown is the per-room countdown.
//
// Exported methods must be called with lock held. The tick goroutine takes the same
// lock, so ticks and client operations on a room never interleave.
type Countdown struct {
	lock     sync.Locker
	clock    clockwork.Clock
	interval time.Duration
	notify   NotifyFunc
	label    string

	state types.TimerState
	task  *tickTask
}

// New creates an idle countdown. lock is the room lock; label only shows up in logs.
func New(lock sync.Locker, clock clockwork.Clock, interval time.Duration, label string, notify NotifyFunc) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if notify == nil {
		notify = func(types.TimerState) {}
	}
	return &Countdown{
		lock:     lock,
		clock:    clock,
		interval: interval,
		notify:   notify,
		label:    label,
	}
}

// State returns a copy of the current timer state.
func (c *Countdown) State() types.TimerState {
	return c.state
}

// Phase derives the lifecycle phase from the visible state.
func (c *Countdown) Phase() Phase {
	switch {
	case !c.state.ShowTimer:
		return Idle
	case c.state.Paused:
		return Paused
	default:
		return Running
	}
}

// Ticking reports whether a tick task is scheduled.
func (c *Countdown) Ticking() bool {
	return c.task != nil
}

// Start begins a countdown from seconds. It only applies while idle; a running or
// paused countdown has to be reset first.
func (c *Countdown) Start(seconds int) bool {
	if c.Phase() != Idle || seconds < 0 {
		return false
	}
	c.stopTicking()
	c.state = types.TimerState{Time: seconds, ShowTimer: true}
	c.notify(c.state)
	if seconds > 0 {
		c.startTicking()
	}
	log.Debug().Str("room", c.label).Int("seconds", seconds).Msg("countdown started")
	return true
}

// Pause freezes a running countdown.
func (c *Countdown) Pause() bool {
	if c.Phase() != Running {
		return false
	}
	c.stopTicking()
	c.state.Paused = true
	c.notify(c.state)
	return true
}

// Continue resumes a paused countdown from where it stopped.
func (c *Countdown) Continue() bool {
	if c.Phase() != Paused {
		return false
	}
	c.state.Paused = false
	c.notify(c.state)
	if c.state.Time > 0 {
		c.startTicking()
	}
	return true
}

// Reset hard resets a visible countdown and ignores an idle one.
func (c *Countdown) Reset() bool {
	if c.Phase() == Idle {
		return false
	}
	c.HardReset()
	return true
}

// HardReset stops ticking and returns to idle from any phase.
func (c *Countdown) HardReset() {
	c.stopTicking()
	c.state = types.TimerState{}
	c.notify(c.state)
}

// Stop cancels the tick task without notifying. Used when the room goes away.
func (c *Countdown) Stop() {
	c.stopTicking()
}

func (c *Countdown) startTicking() {
	c.stopTicking()
	task := &tickTask{
		ticker: c.clock.NewTicker(c.interval),
		done:   make(chan struct{}),
	}
	c.task = task
	go c.run(task)
}

func (c *Countdown) stopTicking() {
	if c.task == nil {
		return
	}
	c.task.ticker.Stop()
	close(c.task.done)
	c.task = nil
}

func (c *Countdown) run(task *tickTask) {
	for {
		select {
		case <-task.done:
			return
		case <-task.ticker.Chan():
			c.lock.Lock()
			// A tick that raced with a stop finds a different (or no) task.
			if c.task != task {
				c.lock.Unlock()
				return
			}
			c.tick()
			c.lock.Unlock()
		}
	}
}

// tick advances the countdown by one second. Reaching zero stops the tick task but
// leaves the countdown visible; the zero is still delivered.
func (c *Countdown) tick() {
	if c.state.Time > 0 {
		c.state.Time--
	}
	if c.state.Time <= 0 {
		c.state.Time = 0
		c.stopTicking()
		log.Debug().Str("room", c.label).Msg("countdown reached zero")
	}
	c.notify(c.state)
}
