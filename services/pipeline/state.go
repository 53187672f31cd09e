package pipeline

import (
	"fmt"

	"github.com/upb/llm-proxy/services"
)

// State tracks a request through the pipeline. Transitions are
// strictly forward; the only backward edge is the retry edge from
// PROVIDER_CALLED back to REQUEST_TRANSFORMED, which increments the
// attempt counter.
type State string

const (
	StateReceived            State = "RECEIVED"
	StateRouted              State = "ROUTED"
	StateRequestTransformed  State = "REQUEST_TRANSFORMED"
	StateProviderCalled      State = "PROVIDER_CALLED"
	StateResponseTransformed State = "RESPONSE_TRANSFORMED"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
)

var forwardTransitions = map[State]State{
	StateReceived:            StateRouted,
	StateRouted:              StateRequestTransformed,
	StateRequestTransformed:  StateProviderCalled,
	StateProviderCalled:      StateResponseTransformed,
	StateResponseTransformed: StateCompleted,
}

var stateRank = map[State]int{
	StateReceived:            0,
	StateRouted:              1,
	StateRequestTransformed:  2,
	StateProviderCalled:      3,
	StateResponseTransformed: 4,
	StateCompleted:           5,
}

// tracker enforces the request state machine for one request.
type tracker struct {
	state   State
	attempt int

	// failedAt records the state a failed request was in
	failedAt State
}

func newTracker() *tracker {
	return &tracker{state: StateReceived, attempt: 1}
}

// advance moves to the next state, failing on any transition the
// machine does not permit.
func (t *tracker) advance(to State) error {
	if forwardTransitions[t.state] != to {
		return services.NewProxyError(services.CodeInternalError,
			fmt.Sprintf("illegal pipeline transition %s -> %s", t.state, to), nil)
	}
	t.state = to
	return nil
}

// mark records that the request reached a state. Fresh progress must
// follow the forward transitions exactly; a state already reached on a
// previous attempt is a no-op, which is how the retry edge re-runs
// selection and transformation without retrying a stage in place.
func (t *tracker) mark(to State) error {
	if stateRank[to] <= stateRank[t.state] {
		return nil
	}
	return t.advance(to)
}

// retry re-enters the transformed state for another provider attempt.
func (t *tracker) retry() error {
	if t.state != StateProviderCalled {
		return services.NewProxyError(services.CodeInternalError,
			fmt.Sprintf("retry from state %s", t.state), nil)
	}
	t.state = StateRequestTransformed
	t.attempt++
	return nil
}

// fail marks the request terminally failed. Reachable from any state.
func (t *tracker) fail() {
	t.failedAt = t.state
	t.state = StateFailed
}
