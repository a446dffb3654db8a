// Package fsm holds the lifecycle state machines of the inference and voice workers.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle State = "idle"

	// inference worker
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"

	// voice capture worker; also ends in StateFailed
	StateListening  State = "listening"
	StateRecognized State = "recognized"
)

const (
	EventStart     Event = "start"
	EventComplete  Event = "complete"
	EventCancel    Event = "cancel"
	EventRecognize Event = "recognize"
	EventFail      Event = "fail"
	EventReset     Event = "reset"
)

// Terminal reports whether s ends a worker run. Terminal states only accept EventReset.
func Terminal(s State) bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateRecognized:
		return true
	default:
		return false
	}
}

// Inference advances the inference worker machine:
// idle -> running -> {completed, cancelled, failed} -> idle.
func Inference(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRunning, nil
		}
	case StateRunning:
		switch event {
		case EventComplete:
			return StateCompleted, nil
		case EventCancel:
			return StateCancelled, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateCompleted, StateCancelled, StateFailed:
		if event == EventReset {
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Voice advances the voice capture machine:
// idle -> listening -> {recognized, failed} -> idle.
func Voice(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateListening, nil
		}
	case StateListening:
		switch event {
		case EventRecognize:
			return StateRecognized, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateRecognized, StateFailed:
		if event == EventReset {
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
