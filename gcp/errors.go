package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ActivityFailed reports an activity that can't proceed. It is never retryable.
type ActivityFailed string

func (a ActivityFailed) Error() string {
	return string(a)
}

// IsNotFound tells if err has been caused by a missing resource, whether it comes from a
// discovery based client or from a gRPC based one.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}

	return status.Code(err) == codes.NotFound
}
