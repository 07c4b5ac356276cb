package push

import "fmt"

// State is the client channel's connection state.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		// Disconnected to Closing covers tearing down a session whose
		// channel never managed to connect.
		case StateConnecting, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnecting:
		switch newState {
		// Connecting to Closing covers Close racing an in-flight dial.
		case StateConnected, StateDisconnected, StateReconnecting, StateClosing:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Reconnecting happens when the transport drops
		// after the connection was established.
		case StateReconnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
