package agent

import "fmt"

// State tracks whether the agent currently has a live, handshaken
// connection to Spearhead.
type State int

const (
	StateNotConnected State = iota
	StateConnected
)

var stateNames = [...]string{"NotConnected", "Connected"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}
