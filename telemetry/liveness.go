package telemetry

import "time"

type LivenessState uint8

const (
	Idle LivenessState = iota
	Armed
)

func (s LivenessState) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Liveness is silence countdown. Idle until first frame, Armed after.
// Owned by one goroutine, not thread-safe.
type Liveness struct {
	window time.Duration
	state  LivenessState
	timer  *time.Timer
}

func NewLiveness(window time.Duration) *Liveness {
	return &Liveness{window: window}
}

func (self *Liveness) State() LivenessState { return self.state }

// Touch on frame arrival: arms or restarts countdown.
func (self *Liveness) Touch() {
	self.state = Armed
	self.restart()
}

// Refresh on new subscription: restarts countdown only when Armed.
func (self *Liveness) Refresh() {
	if self.state == Armed {
		self.restart()
	}
}

// C fires on expiry. Nil channel while Idle, so select on it blocks forever.
func (self *Liveness) C() <-chan time.Time {
	if self.state != Armed || self.timer == nil {
		return nil
	}
	return self.timer.C
}

// Expired must be called after receive from C(). Goes Idle.
// Returns false if countdown was restarted or cancelled meanwhile.
func (self *Liveness) Expired() bool {
	if self.state != Armed {
		return false
	}
	self.state = Idle
	return true
}

// Cancel stops countdown, returns true if it was Armed.
func (self *Liveness) Cancel() bool {
	was := self.state == Armed
	self.state = Idle
	self.stop()
	return was
}

func (self *Liveness) restart() {
	if self.timer == nil {
		self.timer = time.NewTimer(self.window)
		return
	}
	self.stop()
	self.timer.Reset(self.window)
}

func (self *Liveness) stop() {
	if self.timer != nil && !self.timer.Stop() {
		select {
		case <-self.timer.C:
		default:
		}
	}
}
