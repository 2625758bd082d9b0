package urlmap

import (
	"math"

	"cloud.google.com/go/compute/apiv1/computepb"
	faultv31 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/common/fault/v3"
	faultv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/fault/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ToEnvoyFault renders policy as the fault filter configuration a proxy
// receives once the url map has been pushed to it. It returns nil when the
// policy injects nothing.
func ToEnvoyFault(policy *computepb.HttpFaultInjection) *faultv3.HTTPFault {
	if StateOf(policy) == StateAbsent {
		return nil
	}

	var ff faultv3.HTTPFault

	if delay := policy.GetDelay(); delay != nil {
		ff.Delay = &faultv31.FaultDelay{
			FaultDelaySecifier: &faultv31.FaultDelay_FixedDelay{
				FixedDelay: &durationpb.Duration{
					Seconds: delay.GetFixedDelay().GetSeconds(),
					Nanos:   delay.GetFixedDelay().GetNanos(),
				},
			},
			Percentage: makeFractionalPercent(delay.GetPercentage()),
		}
	}

	if abort := policy.GetAbort(); abort != nil {
		ff.Abort = &faultv3.FaultAbort{
			ErrorType: &faultv3.FaultAbort_HttpStatus{
				HttpStatus: abort.GetHttpStatus(),
			},
			Percentage: makeFractionalPercent(abort.GetPercentage()),
		}
	}

	return &ff
}

// ToEnvoyFilter wraps the rendered fault configuration into an HTTP filter.
func ToEnvoyFilter(policy *computepb.HttpFaultInjection) (*hcm.HttpFilter, error) {
	fault := ToEnvoyFault(policy)
	if fault == nil {
		return nil, nil
	}

	typedConfig, err := anypb.New(fault)
	if err != nil {
		return nil, err
	}

	return &hcm.HttpFilter{
		Name: wellknown.Fault,
		ConfigType: &hcm.HttpFilter_TypedConfig{
			TypedConfig: typedConfig,
		},
	}, nil
}

// makeFractionalPercent converts a percentage into parts per million, keeping
// the four decimals url maps accept.
func makeFractionalPercent(percentage float64) *typev3.FractionalPercent {
	return &typev3.FractionalPercent{
		Numerator:   uint32(math.Round(percentage * 10000)),
		Denominator: typev3.FractionalPercent_MILLION,
	}
}
