package smtp

// State is a step of the delivery dialogue.
type State int

// Dialogue states in the order they are visited. The three Auth states are
// only visited when credentials are configured.
const (
	StateConnecting State = iota
	StateGreeting
	StateEhlo
	StateAuthLogin
	StateAuthUser
	StateAuthPass
	StateMailFrom
	StateRcptTo
	StateData
	StateBody
	StateQuit
	StateClosed
)

var stateNames = [...]string{
	StateConnecting: "connect",
	StateGreeting:   "greeting",
	StateEhlo:       "EHLO",
	StateAuthLogin:  "AUTH LOGIN",
	StateAuthUser:   "AUTH username",
	StateAuthPass:   "AUTH password",
	StateMailFrom:   "MAIL FROM",
	StateRcptTo:     "RCPT TO",
	StateData:       "DATA",
	StateBody:       "message body",
	StateQuit:       "QUIT",
	StateClosed:     "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
