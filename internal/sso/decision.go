package sso

// Action tells the browser host what to do with a pending navigation.
type Action int

const (
	// ActionAllow lets the navigation proceed.
	ActionAllow Action = iota
	// ActionCancel stops the navigation.
	ActionCancel
	// ActionFinish stops the navigation and ends the flow with a Result.
	ActionFinish
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionCancel:
		return "cancel"
	case ActionFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a flow: an artifact to exchange with the
// portal, or the reason none could be recovered.
type Result struct {
	Artifact string
	Err      error
}

// OK reports whether the flow recovered an artifact.
func (r Result) OK() bool {
	return r.Err == nil
}

// Decision is the answer to a single navigation event.
type Decision struct {
	Action Action
	Result Result
}

// Allow lets the navigation through.
func Allow() Decision { return Decision{Action: ActionAllow} }

// Cancel blocks the navigation.
func Cancel() Decision { return Decision{Action: ActionCancel} }

// Succeed ends the flow with artifact.
func Succeed(artifact string) Decision {
	return Decision{Action: ActionFinish, Result: Result{Artifact: artifact}}
}

// Fail ends the flow with err.
func Fail(err error) Decision {
	return Decision{Action: ActionFinish, Result: Result{Err: err}}
}

// Navigate reports whether the host may perform the navigation.
// A finishing decision never navigates.
func (d Decision) Navigate() bool {
	return d.Action == ActionAllow
}
