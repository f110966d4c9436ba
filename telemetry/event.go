package telemetry

import (
	"fmt"
	"time"
)

type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventDisconnected
	EventExtraModuleLost
	// Last event, Err is source termination reason, nil for normal completion.
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventExtraModuleLost:
		return "extra_module_lost"
	case EventTerminated:
		return "terminated"
	}
	return "invalid"
}

type Event struct {
	Kind EventKind
	Err  error
	At   time.Time
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s err=%v", e.Kind, e.Err)
	}
	return e.Kind.String()
}
