package urlmap

import (
	"errors"
	"fmt"
	"math"

	"cloud.google.com/go/compute/apiv1/computepb"
)

var (
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrInvalidDelay      = errors.New("delay must be positive with nanos between 0 and 999999999")
	ErrInvalidHTTPStatus = errors.New("http status must be between 200 and 599")
)

// State summarizes the fault injection policy of a route action.
type State uint8

const (
	StateAbsent State = iota
	StateDelay
	StateAbort
	StateDelayAndAbort
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateDelay:
		return "delay"
	case StateAbort:
		return "abort"
	case StateDelayAndAbort:
		return "delay_and_abort"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// StateOf tells which faults policy injects.
func StateOf(policy *computepb.HttpFaultInjection) State {
	switch {
	case policy.GetDelay() != nil && policy.GetAbort() != nil:
		return StateDelayAndAbort
	case policy.GetDelay() != nil:
		return StateDelay
	case policy.GetAbort() != nil:
		return StateAbort
	default:
		return StateAbsent
	}
}

// GetFaultInjectionPolicy returns the policy of the route serving targetPath
// in the path matcher targetName. It is nil when no policy is set.
func GetFaultInjectionPolicy(urlMap *computepb.UrlMap, targetName, targetPath string) (*computepb.HttpFaultInjection, error) {
	action, err := FindRoute(urlMap, targetName, targetPath)
	if err != nil {
		return nil, err
	}

	return action.GetFaultInjectionPolicy(), nil
}

// EnsureFaultInjectionPolicy is GetFaultInjectionPolicy, attaching an empty
// policy to the route when it has none.
func EnsureFaultInjectionPolicy(urlMap *computepb.UrlMap, targetName, targetPath string) (*computepb.HttpFaultInjection, error) {
	action, err := FindRoute(urlMap, targetName, targetPath)
	if err != nil {
		return nil, err
	}

	return EnsurePolicy(action), nil
}

// RemoveFaultInjectionPolicy clears the policy of the matched route. Removing
// an absent policy is a no-op.
func RemoveFaultInjectionPolicy(urlMap *computepb.UrlMap, targetName, targetPath string) error {
	action, err := FindRoute(urlMap, targetName, targetPath)
	if err != nil {
		return err
	}

	action.FaultInjectionPolicy = nil

	return nil
}

// SetDelay makes policy delay percentage of the requests by seconds and nanos.
// An abort already set is kept.
func SetDelay(policy *computepb.HttpFaultInjection, percentage float64, seconds int64, nanos int32) error {
	if err := validatePercentage(percentage); err != nil {
		return err
	}

	if seconds < 0 || nanos < 0 || nanos > 999999999 {
		return fmt.Errorf("%w, got %ds %dns", ErrInvalidDelay, seconds, nanos)
	}

	policy.Delay = &computepb.HttpFaultDelay{
		Percentage: &percentage,
		FixedDelay: &computepb.Duration{
			Seconds: &seconds,
			Nanos:   &nanos,
		},
	}

	return nil
}

// SetAbort makes policy abort percentage of the requests with httpStatus.
// A delay already set is kept.
func SetAbort(policy *computepb.HttpFaultInjection, percentage float64, httpStatus uint32) error {
	if err := validatePercentage(percentage); err != nil {
		return err
	}

	if httpStatus < 200 || httpStatus > 599 {
		return fmt.Errorf("%w, got %d", ErrInvalidHTTPStatus, httpStatus)
	}

	policy.Abort = &computepb.HttpFaultAbort{
		Percentage: &percentage,
		HttpStatus: &httpStatus,
	}

	return nil
}

func validatePercentage(percentage float64) error {
	if math.IsNaN(percentage) || percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w, got %v", ErrInvalidPercentage, percentage)
	}

	return nil
}

// EnsurePolicy returns the fault injection policy of action, attaching an
// empty one first when it has none.
func EnsurePolicy(action *computepb.HttpRouteAction) *computepb.HttpFaultInjection {
	if action.FaultInjectionPolicy == nil {
		action.FaultInjectionPolicy = &computepb.HttpFaultInjection{}
	}

	return action.FaultInjectionPolicy
}
